package routine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neurospicy/routinekit/internal/models"
)

// ErrInvalidTimeExpression indicates an expression that cannot be parsed at
// all, as opposed to one that merely references a parameter not set yet.
var ErrInvalidTimeExpression = errors.New("invalid time expression")

// ResolveTimeExpression evaluates a time expression against an instance's
// parameters. Supported forms:
//
//	07:30                a clock time, resolved on today's date
//	NOW                  the current instant
//	${wakeUpTime}        a parameter reference
//	${wakeUpTime}+PT30M  a reference shifted by an ISO-8601 duration
//	NOW-PT10M            an anchor shifted by an ISO-8601 duration
//
// The anchors ROUTINE_START, PHASE_ENTERED and PHASE_LEFT read the instance
// parameter of the same name; when the anchor parameter has not been stamped
// yet they fall back to now, so expressions evaluated at the moment of the
// anchoring event resolve correctly. A reference to an ordinary parameter
// that is not set yet resolves to nil without error: the caller skips
// scheduling and retries once the parameter arrives. A nil result with a nil
// error therefore means "not resolvable yet", while a non-nil error means the
// expression itself is malformed.
func ResolveTimeExpression(expr string, inst models.RoutineInstance, now time.Time, loc *time.Location) (*time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTimeExpression)
	}

	base, offset, err := splitTimeExpression(expr)
	if err != nil {
		return nil, err
	}

	at, err := resolveTimeBase(base, inst, now, loc)
	if err != nil || at == nil {
		return nil, err
	}
	shifted := at.Add(offset)
	return &shifted, nil
}

// ResolveTimeOfDay evaluates a step's timeOfDay the same way
// ResolveTimeExpression evaluates trigger expressions.
func ResolveTimeOfDay(tod models.TimeOfDay, inst models.RoutineInstance, now time.Time, loc *time.Location) (*time.Time, error) {
	switch tod.Kind {
	case models.TimeOfDayClock:
		at := tod.Clock.On(now.In(loc), loc)
		return &at, nil
	case models.TimeOfDayReference:
		return ResolveTimeExpression("${"+tod.Reference+"}", inst, now, loc)
	case models.TimeOfDayExpression:
		return ResolveTimeExpression(tod.Expression, inst, now, loc)
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownTimeOfDay, tod.Kind)
	}
}

// splitTimeExpression separates the base term from an optional signed
// ISO-8601 duration suffix.
func splitTimeExpression(expr string) (base string, offset time.Duration, err error) {
	cut := -1
	search := expr
	if i := strings.Index(expr, "}"); i >= 0 {
		search = expr[i:]
		cut = i
	} else {
		cut = 0
	}
	rel := strings.IndexAny(search, "+-")
	if rel < 0 {
		return expr, 0, nil
	}
	at := cut + rel
	base = strings.TrimSpace(expr[:at])
	tail := strings.TrimSpace(expr[at+1:])
	d, err := models.ParseISODuration(tail)
	if err != nil {
		return "", 0, fmt.Errorf("%w: bad offset in %q: %v", ErrInvalidTimeExpression, expr, err)
	}
	if expr[at] == '-' {
		d = -d
	}
	return base, d, nil
}

func resolveTimeBase(base string, inst models.RoutineInstance, now time.Time, loc *time.Location) (*time.Time, error) {
	if base == "NOW" {
		return &now, nil
	}
	if ct, err := models.ParseClockTime(base); err == nil {
		at := ct.On(now.In(loc), loc)
		return &at, nil
	}

	key := base
	if strings.HasPrefix(base, "${") && strings.HasSuffix(base, "}") {
		key = base[2 : len(base)-1]
	} else if strings.ContainsAny(base, "${}") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeExpression, base)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: empty parameter reference", ErrInvalidTimeExpression)
	}

	param, found := inst.Parameter(key)
	if !found {
		// Anchor parameters are stamped by the event that defines them; an
		// expression evaluated while handling that event sees "now".
		switch key {
		case models.ParameterKeyForAnchor(models.AnchorRoutineStarted),
			models.ParameterKeyForAnchor(models.AnchorPhaseEntered),
			models.ParameterKeyForAnchor(models.AnchorPhaseLeft):
			return &now, nil
		}
		return nil, nil
	}
	at, ok := param.AsInstant(now, loc)
	if !ok {
		return nil, fmt.Errorf("%w: parameter %q of type %s is not a time", ErrInvalidTimeExpression, key, param.Type)
	}
	return &at, nil
}
