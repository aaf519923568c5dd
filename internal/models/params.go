package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParameterType defines how a routine parameter's raw answer text is parsed
// and how the value is rendered back into messages.
type ParameterType string

const (
	ParameterTypeString    ParameterType = "STRING"
	ParameterTypeLocalTime ParameterType = "LOCAL_TIME"
	ParameterTypeBoolean   ParameterType = "BOOLEAN"
	ParameterTypeInt       ParameterType = "INT"
	ParameterTypeFloat     ParameterType = "FLOAT"
	ParameterTypeDate      ParameterType = "DATE"
	// ParameterTypeInstant holds an absolute point in time. It is never
	// requested from users; the engine stamps lifecycle anchors
	// (ROUTINE_START, PHASE_ENTERED, PHASE_LEFT) with it.
	ParameterTypeInstant ParameterType = "INSTANT"
)

// IsValidParameterType reports whether pt is a known parameter type.
func IsValidParameterType(pt ParameterType) bool {
	switch pt {
	case ParameterTypeString, ParameterTypeLocalTime, ParameterTypeBoolean,
		ParameterTypeInt, ParameterTypeFloat, ParameterTypeDate, ParameterTypeInstant:
		return true
	default:
		return false
	}
}

var (
	ErrInvalidParameterType  = errors.New("invalid parameter type")
	ErrInvalidParameterValue = errors.New("invalid parameter value")
)

// ClockTime is a time of day without a date, in the owner's timezone.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" or "HH:MM:SS" (seconds are dropped).
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return ClockTime{}, fmt.Errorf("%w: %q is not a time of day", ErrInvalidParameterValue, s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return ClockTime{}, fmt.Errorf("%w: bad hour in %q", ErrInvalidParameterValue, s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return ClockTime{}, fmt.Errorf("%w: bad minute in %q", ErrInvalidParameterValue, s)
	}
	return ClockTime{Hour: hour, Minute: minute}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On places the clock time on the given day in the given location.
func (c ClockTime) On(day time.Time, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, loc)
}

// TypedParameter is a parameter value that remembers its declared type. The
// raw value is kept in canonical string form so the aggregate serializes
// without reflection tricks; typed accessors parse on demand.
type TypedParameter struct {
	Type ParameterType `json:"type"`
	// Value in canonical form: STRING as-is, LOCAL_TIME "HH:MM",
	// DATE "2006-01-02", INSTANT RFC 3339, BOOLEAN "true"/"false",
	// INT/FLOAT decimal text.
	Value string `json:"value"`
}

// ParseTypedParameter validates raw user text against the expected type and
// returns the canonical typed value.
func ParseTypedParameter(raw string, expected ParameterType) (TypedParameter, error) {
	raw = strings.TrimSpace(raw)
	switch expected {
	case ParameterTypeString:
		return TypedParameter{Type: expected, Value: raw}, nil
	case ParameterTypeLocalTime:
		ct, err := ParseClockTime(raw)
		if err != nil {
			return TypedParameter{}, err
		}
		return TypedParameter{Type: expected, Value: ct.String()}, nil
	case ParameterTypeBoolean:
		switch strings.ToLower(raw) {
		case "true", "yes", "y", "1", "on":
			return TypedParameter{Type: expected, Value: "true"}, nil
		case "false", "no", "n", "0", "off":
			return TypedParameter{Type: expected, Value: "false"}, nil
		}
		return TypedParameter{}, fmt.Errorf("%w: %q is not a boolean", ErrInvalidParameterValue, raw)
	case ParameterTypeInt:
		if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
			return TypedParameter{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidParameterValue, raw)
		}
		return TypedParameter{Type: expected, Value: raw}, nil
	case ParameterTypeFloat:
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return TypedParameter{}, fmt.Errorf("%w: %q is not a number", ErrInvalidParameterValue, raw)
		}
		return TypedParameter{Type: expected, Value: raw}, nil
	case ParameterTypeDate:
		if _, err := time.Parse("2006-01-02", raw); err != nil {
			return TypedParameter{}, fmt.Errorf("%w: %q is not a date (want 2006-01-02)", ErrInvalidParameterValue, raw)
		}
		return TypedParameter{Type: expected, Value: raw}, nil
	case ParameterTypeInstant:
		if _, err := time.Parse(time.RFC3339, raw); err != nil {
			return TypedParameter{}, fmt.Errorf("%w: %q is not an RFC 3339 instant", ErrInvalidParameterValue, raw)
		}
		return TypedParameter{Type: expected, Value: raw}, nil
	}
	return TypedParameter{}, fmt.Errorf("%w: %q", ErrInvalidParameterType, expected)
}

// InstantParameter wraps a point in time as a typed parameter.
func InstantParameter(t time.Time) TypedParameter {
	return TypedParameter{Type: ParameterTypeInstant, Value: t.UTC().Format(time.RFC3339)}
}

// StringParameter wraps plain text as a typed parameter.
func StringParameter(s string) TypedParameter {
	return TypedParameter{Type: ParameterTypeString, Value: s}
}

// AsClockTime returns the value as a time of day, if the type supports it.
func (p TypedParameter) AsClockTime() (ClockTime, bool) {
	if p.Type != ParameterTypeLocalTime {
		return ClockTime{}, false
	}
	ct, err := ParseClockTime(p.Value)
	return ct, err == nil
}

// AsInstant resolves the parameter to a point in time. LOCAL_TIME values are
// placed on today's date in loc, DATE values at start of day; other types do
// not resolve. now supplies "today".
func (p TypedParameter) AsInstant(now time.Time, loc *time.Location) (time.Time, bool) {
	switch p.Type {
	case ParameterTypeInstant:
		t, err := time.Parse(time.RFC3339, p.Value)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case ParameterTypeLocalTime:
		ct, ok := p.AsClockTime()
		if !ok {
			return time.Time{}, false
		}
		return ct.On(now.In(loc), loc), true
	case ParameterTypeDate:
		d, err := time.ParseInLocation("2006-01-02", p.Value, loc)
		if err != nil {
			return time.Time{}, false
		}
		return d, true
	default:
		return time.Time{}, false
	}
}

// DisplayString renders the value for message substitution.
func (p TypedParameter) DisplayString() string {
	return p.Value
}

// UnmarshalJSON validates the declared type on load.
func (p *TypedParameter) UnmarshalJSON(data []byte) error {
	type alias TypedParameter
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if !IsValidParameterType(a.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidParameterType, a.Type)
	}
	*p = TypedParameter(a)
	return nil
}
