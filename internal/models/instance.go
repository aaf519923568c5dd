package models

import (
	"time"
)

// StepCompletion records one completed step of an iteration.
type StepCompletion struct {
	StepID StepID    `json:"stepId"`
	At     time.Time `json:"at"`
}

// PhaseIterationProgress is one occurrence of a phase's step cycle. The
// iteration is open while CompletedAt is nil; only the open iteration may
// gain completed steps.
type PhaseIterationProgress struct {
	PhaseID        PhaseID          `json:"phaseId"`
	IterationStart time.Time        `json:"iterationStart"`
	CompletedSteps []StepCompletion `json:"completedSteps,omitempty"`
	CompletedAt    *time.Time       `json:"completedAt,omitempty"`
}

// HasCompleted reports whether the step id is recorded in this iteration.
func (p PhaseIterationProgress) HasCompleted(id StepID) bool {
	for _, c := range p.CompletedSteps {
		if c.StepID == id {
			return true
		}
	}
	return false
}

// TaskConcept links an externally created task to the step that caused it.
type TaskConcept struct {
	TaskID     string `json:"taskId"`
	LinkedStep StepID `json:"linkedStep"`
}

// RoutineInstance is the mutable runtime aggregate of one started routine.
// All mutators return a copy; callers persist the returned value. The engine
// never deletes an instance; an abandoned routine is simply one that stops
// progressing.
type RoutineInstance struct {
	ID             InstanceID                `json:"instanceId"`
	TemplateID     TemplateID                `json:"templateId"`
	Owner          OwnerID                   `json:"owner"`
	Parameters     map[string]TypedParameter `json:"parameters,omitempty"`
	CurrentPhaseID *PhaseID                  `json:"currentPhaseId,omitempty"`
	// Progress holds phase iterations, most recent first.
	Progress []PhaseIterationProgress `json:"progress,omitempty"`
	Concepts []TaskConcept            `json:"concepts,omitempty"`
	// FiredTriggers lists completion-count triggers that already ran, so a
	// late or replayed completion cannot run them twice.
	FiredTriggers []TriggerID `json:"firedTriggers,omitempty"`
}

// NewRoutineInstance creates the aggregate for a freshly set-up routine.
func NewRoutineInstance(templateID TemplateID, owner OwnerID, parameters map[string]TypedParameter) RoutineInstance {
	params := make(map[string]TypedParameter, len(parameters))
	for k, v := range parameters {
		params[k] = v
	}
	return RoutineInstance{
		ID:         NewInstanceID(templateID, owner),
		TemplateID: templateID,
		Owner:      owner,
		Parameters: params,
	}
}

// CurrentIteration returns the most recent iteration, or false when the
// routine has not entered any phase yet.
func (i RoutineInstance) CurrentIteration() (PhaseIterationProgress, bool) {
	if len(i.Progress) == 0 {
		return PhaseIterationProgress{}, false
	}
	return i.Progress[0], true
}

// Parameter looks up a typed parameter by key.
func (i RoutineInstance) Parameter(key string) (TypedParameter, bool) {
	p, ok := i.Parameters[key]
	return p, ok
}

// HasParameter reports whether the key has been captured.
func (i RoutineInstance) HasParameter(key string) bool {
	_, ok := i.Parameters[key]
	return ok
}

// CompletedIterations counts completed iterations of the given phase across
// the whole history.
func (i RoutineInstance) CompletedIterations(phaseID PhaseID) int {
	n := 0
	for _, it := range i.Progress {
		if it.PhaseID == phaseID && it.CompletedAt != nil {
			n++
		}
	}
	return n
}

// HasFiredTrigger reports whether the trigger already executed its effect.
func (i RoutineInstance) HasFiredTrigger(id TriggerID) bool {
	for _, fired := range i.FiredTriggers {
		if fired == id {
			return true
		}
	}
	return false
}

// ConceptForTask returns the concept linking the given task, or false.
func (i RoutineInstance) ConceptForTask(taskID string) (TaskConcept, bool) {
	for _, c := range i.Concepts {
		if c.TaskID == taskID {
			return c, true
		}
	}
	return TaskConcept{}, false
}

// WithCurrentPhase transitions the instance to the given phase, opening a new
// iteration at its head.
func (i RoutineInstance) WithCurrentPhase(phaseID PhaseID, now time.Time) RoutineInstance {
	out := i.clone()
	out.CurrentPhaseID = &phaseID
	out.Progress = append([]PhaseIterationProgress{{PhaseID: phaseID, IterationStart: now}}, out.Progress...)
	return out
}

// WithNewIteration opens a fresh iteration of the current phase.
func (i RoutineInstance) WithNewIteration(phaseID PhaseID, now time.Time) RoutineInstance {
	out := i.clone()
	out.Progress = append([]PhaseIterationProgress{{PhaseID: phaseID, IterationStart: now}}, out.Progress...)
	return out
}

// WithParameter stores a typed parameter.
func (i RoutineInstance) WithParameter(key string, value TypedParameter) RoutineInstance {
	out := i.clone()
	out.Parameters[key] = value
	return out
}

// WithCompletedStep records a step completion in the open iteration. The
// write is idempotent: a step id already present, a closed iteration, or a
// missing iteration leave the instance unchanged.
func (i RoutineInstance) WithCompletedStep(stepID StepID, now time.Time) RoutineInstance {
	if len(i.Progress) == 0 {
		return i
	}
	current := i.Progress[0]
	if current.CompletedAt != nil || current.HasCompleted(stepID) {
		return i
	}
	out := i.clone()
	head := out.Progress[0]
	head.CompletedSteps = append(append([]StepCompletion{}, head.CompletedSteps...), StepCompletion{StepID: stepID, At: now})
	out.Progress[0] = head
	return out
}

// WithCompletedIteration stamps the open iteration's completion time.
func (i RoutineInstance) WithCompletedIteration(now time.Time) RoutineInstance {
	if len(i.Progress) == 0 || i.Progress[0].CompletedAt != nil {
		return i
	}
	out := i.clone()
	head := out.Progress[0]
	head.CompletedAt = &now
	out.Progress[0] = head
	return out
}

// WithFiredTrigger marks the trigger's effect as executed. Idempotent.
func (i RoutineInstance) WithFiredTrigger(id TriggerID) RoutineInstance {
	if i.HasFiredTrigger(id) {
		return i
	}
	out := i.clone()
	out.FiredTriggers = append(out.FiredTriggers, id)
	return out
}

// WithConcept links an external task to a step.
func (i RoutineInstance) WithConcept(concept TaskConcept) RoutineInstance {
	out := i.clone()
	out.Concepts = append(out.Concepts, concept)
	return out
}

// WithoutConcept removes the concept for the given task id, if present.
func (i RoutineInstance) WithoutConcept(taskID string) RoutineInstance {
	out := i.clone()
	kept := out.Concepts[:0]
	for _, c := range out.Concepts {
		if c.TaskID != taskID {
			kept = append(kept, c)
		}
	}
	out.Concepts = kept
	return out
}

func (i RoutineInstance) clone() RoutineInstance {
	out := i
	out.Parameters = make(map[string]TypedParameter, len(i.Parameters))
	for k, v := range i.Parameters {
		out.Parameters[k] = v
	}
	out.Progress = append([]PhaseIterationProgress{}, i.Progress...)
	out.Concepts = append([]TaskConcept{}, i.Concepts...)
	out.FiredTriggers = append([]TriggerID{}, i.FiredTriggers...)
	if i.CurrentPhaseID != nil {
		id := *i.CurrentPhaseID
		out.CurrentPhaseID = &id
	}
	return out
}
