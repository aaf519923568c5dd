package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Validation errors shared by template construction and parsing.
var (
	ErrEmptyTitle           = errors.New("title must not be empty")
	ErrEmptyVersion         = errors.New("version must not be empty")
	ErrEmptyDescription     = errors.New("description must not be empty")
	ErrNoPhases             = errors.New("template needs at least one phase")
	ErrNoSteps              = errors.New("phase needs at least one step")
	ErrEmptyMessage         = errors.New("message must not be empty")
	ErrEmptyQuestion        = errors.New("question must not be empty")
	ErrEmptyParameterKey    = errors.New("parameter key must not be empty")
	ErrUnknownStepType      = errors.New("unknown step type")
	ErrUnknownTimeOfDay     = errors.New("unknown time of day format")
	ErrUnknownConditionType = errors.New("unknown trigger condition type")
	ErrUnknownEffectType    = errors.New("unknown trigger effect type")
)

// Step type tags used in the template JSON format.
const (
	StepTypeParameterRequest = "parameter_request"
	StepTypeMessage          = "message"
	StepTypeAction           = "action"
)

// RoutineTemplate is the immutable description of a routine. Ids are derived
// from content so an unchanged template file always produces the same ids.
type RoutineTemplate struct {
	ID          TemplateID       `json:"templateId"`
	Title       string           `json:"title"`
	Version     string           `json:"version"`
	Description string           `json:"description"`
	SetupSteps  []RoutineStep    `json:"setupSteps,omitempty"`
	Phases      []RoutinePhase   `json:"phases"`
	Triggers    []RoutineTrigger `json:"triggers,omitempty"`
}

// NewRoutineTemplate validates required fields and derives the template id.
func NewRoutineTemplate(title, version, description string, setupSteps []RoutineStep, phases []RoutinePhase, triggers []RoutineTrigger) (RoutineTemplate, error) {
	if title == "" {
		return RoutineTemplate{}, ErrEmptyTitle
	}
	if version == "" {
		return RoutineTemplate{}, ErrEmptyVersion
	}
	if description == "" {
		return RoutineTemplate{}, ErrEmptyDescription
	}
	if len(phases) == 0 {
		return RoutineTemplate{}, ErrNoPhases
	}
	return RoutineTemplate{
		ID:          TemplateIDFor(title, version),
		Title:       title,
		Version:     version,
		Description: description,
		SetupSteps:  setupSteps,
		Phases:      phases,
		Triggers:    triggers,
	}, nil
}

// FindPhase returns the phase with the given id, or false.
func (t RoutineTemplate) FindPhase(id PhaseID) (RoutinePhase, bool) {
	for _, p := range t.Phases {
		if p.ID == id {
			return p, true
		}
	}
	return RoutinePhase{}, false
}

// FindTrigger returns the trigger with the given id, or false.
func (t RoutineTemplate) FindTrigger(id TriggerID) (RoutineTrigger, bool) {
	for _, tr := range t.Triggers {
		if tr.ID == id {
			return tr, true
		}
	}
	return RoutineTrigger{}, false
}

// PhaseForStep returns the phase containing the given step id, or false.
func (t RoutineTemplate) PhaseForStep(stepID StepID) (RoutinePhase, bool) {
	for _, p := range t.Phases {
		if _, ok := p.FindStep(stepID); ok {
			return p, true
		}
	}
	return RoutinePhase{}, false
}

// UnmarshalJSON decodes the persisted template form, reconstructing the step
// and trigger variants from their type tags.
func (t *RoutineTemplate) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          TemplateID        `json:"templateId"`
		Title       string            `json:"title"`
		Version     string            `json:"version"`
		Description string            `json:"description"`
		SetupSteps  []json.RawMessage `json:"setupSteps"`
		Phases      []RoutinePhase    `json:"phases"`
		Triggers    []RoutineTrigger  `json:"triggers"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	setup := make([]RoutineStep, 0, len(raw.SetupSteps))
	for _, rs := range raw.SetupSteps {
		step, err := UnmarshalStep(rs)
		if err != nil {
			return err
		}
		setup = append(setup, step)
	}
	t.ID = raw.ID
	t.Title = raw.Title
	t.Version = raw.Version
	t.Description = raw.Description
	t.SetupSteps = setup
	t.Phases = raw.Phases
	t.Triggers = raw.Triggers
	if t.ID == "" {
		t.ID = TemplateIDFor(t.Title, t.Version)
	}
	return nil
}

// RoutinePhase is a named stage of a routine with its own steps, an optional
// activation condition and a recurrence schedule. A nil Condition means the
// phase activates immediately when reached.
type RoutinePhase struct {
	ID        PhaseID            `json:"id"`
	Title     string             `json:"title"`
	Condition TriggerCondition   `json:"condition,omitempty"`
	Steps     []RoutineStep      `json:"steps"`
	Schedule  ScheduleExpression `json:"schedule"`
}

// NewRoutinePhase validates the phase and derives its id from the title.
func NewRoutinePhase(title string, condition TriggerCondition, steps []RoutineStep, schedule ScheduleExpression) (RoutinePhase, error) {
	if title == "" {
		return RoutinePhase{}, ErrEmptyTitle
	}
	if len(steps) == 0 {
		return RoutinePhase{}, ErrNoSteps
	}
	return RoutinePhase{
		ID:        PhaseIDFor(title),
		Title:     title,
		Condition: condition,
		Steps:     steps,
		Schedule:  schedule,
	}, nil
}

// FindStep returns the step with the given id, or false.
func (p RoutinePhase) FindStep(id StepID) (RoutineStep, bool) {
	for _, s := range p.Steps {
		if s.StepID() == id {
			return s, true
		}
	}
	return nil, false
}

// UnmarshalJSON reconstructs the step and condition variants of a phase.
func (p *RoutinePhase) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        PhaseID            `json:"id"`
		Title     string             `json:"title"`
		Condition json.RawMessage    `json:"condition"`
		Steps     []json.RawMessage  `json:"steps"`
		Schedule  ScheduleExpression `json:"schedule"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var condition TriggerCondition
	if len(raw.Condition) > 0 && string(raw.Condition) != "null" {
		c, err := UnmarshalCondition(raw.Condition)
		if err != nil {
			return err
		}
		condition = c
	}
	steps := make([]RoutineStep, 0, len(raw.Steps))
	for _, rs := range raw.Steps {
		step, err := UnmarshalStep(rs)
		if err != nil {
			return err
		}
		steps = append(steps, step)
	}
	p.ID = raw.ID
	p.Title = raw.Title
	p.Condition = condition
	p.Steps = steps
	p.Schedule = raw.Schedule
	if p.ID == "" {
		p.ID = PhaseIDFor(p.Title)
	}
	if p.Schedule == "" {
		p.Schedule = ScheduleDaily
	}
	return nil
}

// TimeOfDayKind discriminates the time-of-day variants.
type TimeOfDayKind string

const (
	// TimeOfDayClock is a fixed local time such as "07:30".
	TimeOfDayClock TimeOfDayKind = "clock"
	// TimeOfDayReference points at a parameter holding the time.
	TimeOfDayReference TimeOfDayKind = "reference"
	// TimeOfDayExpression is a time expression such as "${wakeUpTime}+PT30M".
	TimeOfDayExpression TimeOfDayKind = "expression"
)

// TimeOfDay anchors a step within a phase iteration's day.
type TimeOfDay struct {
	Kind       TimeOfDayKind
	Clock      ClockTime
	Reference  string
	Expression string
}

var referenceOnlyPattern = regexp.MustCompile(`^\$\{([^}]+)\}$`)

// ParseTimeOfDay classifies the template string form of a timeOfDay field:
// "HH:MM" is a fixed clock time, "${name}" a parameter reference, and any
// other string containing a variable or duration arithmetic an expression.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TimeOfDay{}, fmt.Errorf("%w: empty", ErrUnknownTimeOfDay)
	}
	if m := referenceOnlyPattern.FindStringSubmatch(s); m != nil {
		return TimeOfDay{Kind: TimeOfDayReference, Reference: m[1]}, nil
	}
	if ct, err := ParseClockTime(s); err == nil {
		return TimeOfDay{Kind: TimeOfDayClock, Clock: ct}, nil
	}
	if strings.Contains(s, "${") || strings.ContainsAny(s, "+-") {
		return TimeOfDay{Kind: TimeOfDayExpression, Expression: s}, nil
	}
	// Bare words are treated as parameter references, matching the original
	// loader's fallback.
	return TimeOfDay{Kind: TimeOfDayReference, Reference: s}, nil
}

// String renders the time of day back into its template form.
func (t TimeOfDay) String() string {
	switch t.Kind {
	case TimeOfDayClock:
		return t.Clock.String()
	case TimeOfDayReference:
		return "${" + t.Reference + "}"
	case TimeOfDayExpression:
		return t.Expression
	}
	return ""
}

// MarshalJSON stores the compact template string form.
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON parses the compact template string form.
func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// RoutineStep is one atomic unit of interaction within a phase. The variant
// set is closed: parameter request, message, or action.
type RoutineStep interface {
	StepID() StepID
	StepDescription() string
	// StepTimeOfDay returns the step's scheduling anchor, nil when the step
	// has no own time.
	StepTimeOfDay() *TimeOfDay
	routineStep()
}

// ParameterRequestStep asks the owner a question and binds the typed answer
// to a parameter key. The step completes when the answer is bound, not when
// the question is sent.
type ParameterRequestStep struct {
	ID            StepID        `json:"id"`
	Question      string        `json:"question"`
	ParameterKey  string        `json:"parameterKey"`
	ParameterType ParameterType `json:"parameterType"`
	TimeOfDay     *TimeOfDay    `json:"timeOfDay,omitempty"`
}

// NewParameterRequestStep validates and derives the step id from the question.
func NewParameterRequestStep(question, parameterKey string, parameterType ParameterType, timeOfDay *TimeOfDay) (ParameterRequestStep, error) {
	if question == "" {
		return ParameterRequestStep{}, ErrEmptyQuestion
	}
	if parameterKey == "" {
		return ParameterRequestStep{}, ErrEmptyParameterKey
	}
	if !IsValidParameterType(parameterType) {
		return ParameterRequestStep{}, fmt.Errorf("%w: %q", ErrInvalidParameterType, parameterType)
	}
	return ParameterRequestStep{
		ID:            StepIDFor(question),
		Question:      question,
		ParameterKey:  parameterKey,
		ParameterType: parameterType,
		TimeOfDay:     timeOfDay,
	}, nil
}

func (s ParameterRequestStep) StepID() StepID            { return s.ID }
func (s ParameterRequestStep) StepDescription() string   { return s.Question }
func (s ParameterRequestStep) StepTimeOfDay() *TimeOfDay { return s.TimeOfDay }
func (s ParameterRequestStep) routineStep()              {}

// MarshalJSON tags the step with its type.
func (s ParameterRequestStep) MarshalJSON() ([]byte, error) {
	type alias ParameterRequestStep
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: StepTypeParameterRequest, alias: alias(s)})
}

// MessageStep sends a fixed message and auto-completes once sent.
type MessageStep struct {
	ID        StepID     `json:"id"`
	Message   string     `json:"message"`
	TimeOfDay *TimeOfDay `json:"timeOfDay,omitempty"`
}

// NewMessageStep validates and derives the step id from the message.
func NewMessageStep(message string, timeOfDay *TimeOfDay) (MessageStep, error) {
	if message == "" {
		return MessageStep{}, ErrEmptyMessage
	}
	return MessageStep{ID: StepIDFor(message), Message: message, TimeOfDay: timeOfDay}, nil
}

func (s MessageStep) StepID() StepID            { return s.ID }
func (s MessageStep) StepDescription() string   { return s.Message }
func (s MessageStep) StepTimeOfDay() *TimeOfDay { return s.TimeOfDay }
func (s MessageStep) routineStep()              {}

// MarshalJSON tags the step with its type.
func (s MessageStep) MarshalJSON() ([]byte, error) {
	type alias MessageStep
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: StepTypeMessage, alias: alias(s)})
}

// ActionStep sends an instruction. With ExpectConfirmation set, a linked task
// is created and the step completes only when that task is completed. Without
// it the send is fire-and-forget: the step is never recorded as completed,
// matching the original engine (a phase made only of such steps will not
// complete its iterations on its own).
type ActionStep struct {
	ID                      StepID     `json:"id"`
	Message                 string     `json:"message"`
	ExpectConfirmation      bool       `json:"expectConfirmation,omitempty"`
	ExpectedDurationMinutes int        `json:"expectedDurationMinutes,omitempty"`
	TimeOfDay               *TimeOfDay `json:"timeOfDay,omitempty"`
}

// NewActionStep validates and derives the step id from the message.
func NewActionStep(message string, expectConfirmation bool, expectedDurationMinutes int, timeOfDay *TimeOfDay) (ActionStep, error) {
	if message == "" {
		return ActionStep{}, ErrEmptyMessage
	}
	if expectedDurationMinutes < 0 {
		return ActionStep{}, fmt.Errorf("%w: negative expected duration", ErrInvalidParameterValue)
	}
	return ActionStep{
		ID:                      StepIDFor(message),
		Message:                 message,
		ExpectConfirmation:      expectConfirmation,
		ExpectedDurationMinutes: expectedDurationMinutes,
		TimeOfDay:               timeOfDay,
	}, nil
}

func (s ActionStep) StepID() StepID            { return s.ID }
func (s ActionStep) StepDescription() string   { return s.Message }
func (s ActionStep) StepTimeOfDay() *TimeOfDay { return s.TimeOfDay }
func (s ActionStep) routineStep()              {}

// MarshalJSON tags the step with its type.
func (s ActionStep) MarshalJSON() ([]byte, error) {
	type alias ActionStep
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: StepTypeAction, alias: alias(s)})
}

// UnmarshalStep decodes one step by its type tag. Unknown types return
// ErrUnknownStepType so callers can skip the single item.
func UnmarshalStep(data []byte) (RoutineStep, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case StepTypeParameterRequest:
		var raw struct {
			Question      string        `json:"question"`
			ParameterKey  string        `json:"parameterKey"`
			ParameterType ParameterType `json:"parameterType"`
			TimeOfDay     *TimeOfDay    `json:"timeOfDay"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return NewParameterRequestStep(raw.Question, raw.ParameterKey, raw.ParameterType, raw.TimeOfDay)
	case StepTypeMessage:
		var raw struct {
			Message   string     `json:"message"`
			TimeOfDay *TimeOfDay `json:"timeOfDay"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return NewMessageStep(raw.Message, raw.TimeOfDay)
	case StepTypeAction:
		var raw struct {
			Message                 string     `json:"message"`
			ExpectConfirmation      bool       `json:"expectConfirmation"`
			ExpectedDurationMinutes int        `json:"expectedDurationMinutes"`
			TimeOfDay               *TimeOfDay `json:"timeOfDay"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return NewActionStep(raw.Message, raw.ExpectConfirmation, raw.ExpectedDurationMinutes, raw.TimeOfDay)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepType, head.Type)
	}
}
