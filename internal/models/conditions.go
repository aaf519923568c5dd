package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Condition type tags used in the template JSON format.
const (
	ConditionTypeAfterDays             = "AFTER_DAYS"
	ConditionTypeAfterDuration         = "AFTER_DURATION"
	ConditionTypeAfterEvent            = "AFTER_EVENT"
	ConditionTypeAfterPhaseCompletions = "AFTER_PHASE_COMPLETIONS"
	ConditionTypeAfterParameterSet     = "AFTER_PARAMETER_SET"
	ConditionTypeAtTimeExpression      = "AT_TIME_EXPRESSION"
)

// Effect type tags used in the template JSON format.
const (
	EffectTypeSendMessage = "SEND_MESSAGE"
	EffectTypeCreateTask  = "CREATE_TASK"
)

var (
	ErrNonPositiveDays       = errors.New("days value must be positive")
	ErrNegativeDuration      = errors.New("duration must not be negative")
	ErrNonPositiveTimes      = errors.New("times must be positive")
	ErrEmptyTimeExpression   = errors.New("time expression must not be empty")
	ErrUnknownAnchorEvent    = errors.New("unknown anchor event")
	ErrEmptyTaskDescription  = errors.New("task description must not be empty")
	ErrExpiryNotInFuture     = errors.New("expiry date must be in the future")
	ErrEmptyPhaseTitle       = errors.New("phase title must not be blank if provided")
	ErrEmptyReference        = errors.New("reference must not be blank if provided")
	ErrConditionNotTimeBased = errors.New("condition is not time based")
)

// AnchorEvent names the lifecycle events usable as time anchors and in
// AfterEvent conditions.
type AnchorEvent string

const (
	AnchorRoutineStarted AnchorEvent = "ROUTINE_STARTED"
	AnchorPhaseEntered   AnchorEvent = "PHASE_ENTERED"
	AnchorPhaseLeft      AnchorEvent = "PHASE_LEFT"
)

// ParameterKeyForAnchor maps an anchor event to the instance parameter the
// engine stamps when the event fires. Time expressions resolve anchors
// through these parameters.
func ParameterKeyForAnchor(e AnchorEvent) string {
	if e == AnchorRoutineStarted {
		return "ROUTINE_START"
	}
	return string(e)
}

// TriggerCondition gates phase activation or trigger firing. The variant set
// is closed; IsTimeBased reports whether the condition resolves to a concrete
// fire time on its own (and is therefore handed to the scheduler).
type TriggerCondition interface {
	ConditionType() string
	routineCondition()
}

// IsTimeBased reports whether the condition kind schedules by time.
func IsTimeBased(c TriggerCondition) bool {
	switch c.(type) {
	case AfterDays, AfterDuration, AfterEvent, AtTimeExpression:
		return true
	default:
		return false
	}
}

// AfterDays fires the given number of days after routine start.
type AfterDays struct {
	Days int `json:"value"`
}

func (AfterDays) ConditionType() string { return ConditionTypeAfterDays }
func (AfterDays) routineCondition()     {}

// MarshalJSON tags the condition with its type.
func (c AfterDays) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Days int    `json:"value"`
	}{ConditionTypeAfterDays, c.Days})
}

// AfterDuration fires a duration after a reference parameter's point in time,
// or after "now" when Reference is empty.
type AfterDuration struct {
	Reference string
	Duration  time.Duration
}

func (AfterDuration) ConditionType() string { return ConditionTypeAfterDuration }
func (AfterDuration) routineCondition()     {}

// MarshalJSON stores the duration in ISO 8601 form.
func (c AfterDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string `json:"type"`
		Reference string `json:"reference,omitempty"`
		Duration  string `json:"duration"`
	}{ConditionTypeAfterDuration, c.Reference, FormatISODuration(c.Duration)})
}

// AfterEvent fires at the time its expression evaluates to once the named
// lifecycle event has happened, optionally narrowed to one phase by title.
type AfterEvent struct {
	Event          AnchorEvent
	PhaseTitle     string
	TimeExpression string
}

func (AfterEvent) ConditionType() string { return ConditionTypeAfterEvent }
func (AfterEvent) routineCondition()     {}

// MarshalJSON tags the condition with its type.
func (c AfterEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type           string      `json:"type"`
		Event          AnchorEvent `json:"eventType"`
		PhaseTitle     string      `json:"phaseTitle,omitempty"`
		TimeExpression string      `json:"timeExpression,omitempty"`
	}{ConditionTypeAfterEvent, c.Event, c.PhaseTitle, c.TimeExpression})
}

// AfterPhaseCompletions fires once the referenced phase has the given number
// of completed iterations.
type AfterPhaseCompletions struct {
	PhaseID PhaseID `json:"phaseId"`
	Times   int     `json:"times"`
}

func (AfterPhaseCompletions) ConditionType() string { return ConditionTypeAfterPhaseCompletions }
func (AfterPhaseCompletions) routineCondition()     {}

// MarshalJSON tags the condition with its type.
func (c AfterPhaseCompletions) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string  `json:"type"`
		PhaseID PhaseID `json:"phaseId"`
		Times   int     `json:"times"`
	}{ConditionTypeAfterPhaseCompletions, c.PhaseID, c.Times})
}

// AfterParameterSet fires once the named parameter has been captured.
type AfterParameterSet struct {
	ParameterKey string `json:"parameterKey"`
}

func (AfterParameterSet) ConditionType() string { return ConditionTypeAfterParameterSet }
func (AfterParameterSet) routineCondition()     {}

// MarshalJSON tags the condition with its type.
func (c AfterParameterSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type         string `json:"type"`
		ParameterKey string `json:"parameterKey"`
	}{ConditionTypeAfterParameterSet, c.ParameterKey})
}

// AtTimeExpression fires at the time the expression evaluates to.
type AtTimeExpression struct {
	TimeExpression string `json:"timeExpression"`
}

func (AtTimeExpression) ConditionType() string { return ConditionTypeAtTimeExpression }
func (AtTimeExpression) routineCondition()     {}

// MarshalJSON tags the condition with its type.
func (c AtTimeExpression) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type           string `json:"type"`
		TimeExpression string `json:"timeExpression"`
	}{ConditionTypeAtTimeExpression, c.TimeExpression})
}

// UnmarshalCondition decodes one condition by its type tag. Unknown types
// return ErrUnknownConditionType so callers can skip the single item.
func UnmarshalCondition(data []byte) (TriggerCondition, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case ConditionTypeAfterDays:
		var raw struct {
			Days int `json:"value"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw.Days <= 0 {
			return nil, ErrNonPositiveDays
		}
		return AfterDays{Days: raw.Days}, nil
	case ConditionTypeAfterDuration:
		var raw struct {
			Reference string `json:"reference"`
			Duration  string `json:"duration"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		d, err := ParseISODuration(raw.Duration)
		if err != nil {
			return nil, err
		}
		if d < 0 {
			return nil, ErrNegativeDuration
		}
		return AfterDuration{Reference: raw.Reference, Duration: d}, nil
	case ConditionTypeAfterEvent:
		var raw struct {
			Event          AnchorEvent `json:"eventType"`
			PhaseTitle     string      `json:"phaseTitle"`
			TimeExpression string      `json:"timeExpression"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		switch raw.Event {
		case AnchorRoutineStarted, AnchorPhaseEntered, AnchorPhaseLeft:
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownAnchorEvent, raw.Event)
		}
		if raw.TimeExpression == "" {
			// No expression means "at the anchor itself".
			raw.TimeExpression = "${" + ParameterKeyForAnchor(raw.Event) + "}"
		}
		return AfterEvent{Event: raw.Event, PhaseTitle: raw.PhaseTitle, TimeExpression: raw.TimeExpression}, nil
	case ConditionTypeAfterPhaseCompletions:
		var raw struct {
			PhaseID    PhaseID `json:"phaseId"`
			PhaseTitle string  `json:"phaseTitle"`
			Times      int     `json:"times"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw.Times <= 0 {
			return nil, ErrNonPositiveTimes
		}
		phaseID := raw.PhaseID
		if phaseID == "" && raw.PhaseTitle != "" {
			// Template authors name phases by title; the id is derived.
			phaseID = PhaseIDFor(raw.PhaseTitle)
		}
		if phaseID == "" {
			return nil, ErrEmptyPhaseTitle
		}
		return AfterPhaseCompletions{PhaseID: phaseID, Times: raw.Times}, nil
	case ConditionTypeAfterParameterSet:
		var raw struct {
			ParameterKey string `json:"parameterKey"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw.ParameterKey == "" {
			return nil, ErrEmptyParameterKey
		}
		return AfterParameterSet{ParameterKey: raw.ParameterKey}, nil
	case ConditionTypeAtTimeExpression:
		var raw struct {
			TimeExpression string `json:"timeExpression"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw.TimeExpression == "" {
			return nil, ErrEmptyTimeExpression
		}
		return AtTimeExpression{TimeExpression: raw.TimeExpression}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownConditionType, head.Type)
	}
}

// TriggerEffect is the action a trigger performs when it fires.
type TriggerEffect interface {
	EffectType() string
	routineEffect()
}

// SendMessageEffect sends a (variable-substituted) message to the owner.
type SendMessageEffect struct {
	Message string `json:"message"`
}

func (SendMessageEffect) EffectType() string { return EffectTypeSendMessage }
func (SendMessageEffect) routineEffect()     {}

// MarshalJSON tags the effect with its type.
func (e SendMessageEffect) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{EffectTypeSendMessage, e.Message})
}

// CreateTaskEffect creates an external task linked to the instance.
type CreateTaskEffect struct {
	TaskDescription string    `json:"taskDescription"`
	ParameterKey    string    `json:"parameterKey"`
	ExpiryDate      time.Time `json:"expiryDate"`
}

func (CreateTaskEffect) EffectType() string { return EffectTypeCreateTask }
func (CreateTaskEffect) routineEffect()     {}

// MarshalJSON tags the effect with its type.
func (e CreateTaskEffect) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type            string    `json:"type"`
		TaskDescription string    `json:"taskDescription"`
		ParameterKey    string    `json:"parameterKey"`
		ExpiryDate      time.Time `json:"expiryDate"`
	}{EffectTypeCreateTask, e.TaskDescription, e.ParameterKey, e.ExpiryDate})
}

// UnmarshalEffect decodes one effect by its type tag. Unknown types return
// ErrUnknownEffectType so callers can skip the single item.
func UnmarshalEffect(data []byte) (TriggerEffect, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case EffectTypeSendMessage:
		var raw struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw.Message == "" {
			return nil, ErrEmptyMessage
		}
		return SendMessageEffect{Message: raw.Message}, nil
	case EffectTypeCreateTask:
		var raw struct {
			TaskDescription string    `json:"taskDescription"`
			ParameterKey    string    `json:"parameterKey"`
			ExpiryDate      time.Time `json:"expiryDate"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw.TaskDescription == "" {
			return nil, ErrEmptyTaskDescription
		}
		if raw.ParameterKey == "" {
			return nil, ErrEmptyParameterKey
		}
		return CreateTaskEffect{TaskDescription: raw.TaskDescription, ParameterKey: raw.ParameterKey, ExpiryDate: raw.ExpiryDate}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEffectType, head.Type)
	}
}

// RoutineTrigger is a standalone condition-effect rule of a template,
// independent of step scheduling.
type RoutineTrigger struct {
	ID        TriggerID        `json:"id"`
	Condition TriggerCondition `json:"condition"`
	Effect    TriggerEffect    `json:"effect"`
}

// NewRoutineTrigger assigns a generated id.
func NewRoutineTrigger(condition TriggerCondition, effect TriggerEffect) RoutineTrigger {
	return RoutineTrigger{ID: NewTriggerID(), Condition: condition, Effect: effect}
}

// UnmarshalJSON reconstructs condition and effect variants.
func (t *RoutineTrigger) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        TriggerID       `json:"id"`
		Condition json.RawMessage `json:"condition"`
		Effect    json.RawMessage `json:"effect"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	condition, err := UnmarshalCondition(raw.Condition)
	if err != nil {
		return err
	}
	effect, err := UnmarshalEffect(raw.Effect)
	if err != nil {
		return err
	}
	t.ID = raw.ID
	if t.ID == "" {
		t.ID = NewTriggerID()
	}
	t.Condition = condition
	t.Effect = effect
	return nil
}
