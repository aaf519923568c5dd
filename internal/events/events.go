// Package events defines the routine lifecycle events and the in-process bus
// that fans them out to the engine's handlers.
//
// The engine is driven entirely by these events: schedulers publish *Due
// events when timers fire, handlers publish lifecycle events as they mutate
// instances, and other handlers react. There is no central coordinator.
package events

import (
	"time"

	"github.com/neurospicy/routinekit/internal/models"
)

// Event is implemented by every routine event. Key returns the instance id
// the event belongs to; the bus serializes handler invocations per key so
// that read-modify-write cycles on one instance never interleave.
type Event interface {
	Name() string
	Key() models.InstanceID
}

// RoutineStarted is published once after setup completes.
type RoutineStarted struct {
	Owner      models.OwnerID
	InstanceID models.InstanceID
}

func (RoutineStarted) Name() string             { return "routine.started" }
func (e RoutineStarted) Key() models.InstanceID { return e.InstanceID }

// PhaseActivated is published after a phase became current.
type PhaseActivated struct {
	Owner      models.OwnerID
	InstanceID models.InstanceID
	PhaseID    models.PhaseID
}

func (PhaseActivated) Name() string             { return "routine.phase.activated" }
func (e PhaseActivated) Key() models.InstanceID { return e.InstanceID }

// PhaseDeactivated is published after a phase's scheduled work and side state
// were torn down. It is emitted even when parts of the cleanup failed.
type PhaseDeactivated struct {
	Owner      models.OwnerID
	InstanceID models.InstanceID
	PhaseID    models.PhaseID
}

func (PhaseDeactivated) Name() string             { return "routine.phase.deactivated" }
func (e PhaseDeactivated) Key() models.InstanceID { return e.InstanceID }

// PhaseDue fires when a scheduled phase activation condition came due.
type PhaseDue struct {
	Owner      models.OwnerID
	InstanceID models.InstanceID
	PhaseID    models.PhaseID
}

func (PhaseDue) Name() string             { return "routine.phase.due" }
func (e PhaseDue) Key() models.InstanceID { return e.InstanceID }

// PhaseIterationDue fires on the phase's recurrence schedule while the phase
// is current.
type PhaseIterationDue struct {
	Owner      models.OwnerID
	InstanceID models.InstanceID
	PhaseID    models.PhaseID
}

func (PhaseIterationDue) Name() string             { return "routine.phase.iteration.due" }
func (e PhaseIterationDue) Key() models.InstanceID { return e.InstanceID }

// PhaseIterationStarted is published after a new iteration opened and its
// steps were scheduled.
type PhaseIterationStarted struct {
	Owner      models.OwnerID
	InstanceID models.InstanceID
	PhaseID    models.PhaseID
}

func (PhaseIterationStarted) Name() string             { return "routine.phase.iteration.started" }
func (e PhaseIterationStarted) Key() models.InstanceID { return e.InstanceID }

// PhaseIterationCompleted is published when every step of the current phase
// is recorded in the open iteration.
type PhaseIterationCompleted struct {
	Owner      models.OwnerID
	InstanceID models.InstanceID
	PhaseID    models.PhaseID
}

func (PhaseIterationCompleted) Name() string             { return "routine.phase.iteration.completed" }
func (e PhaseIterationCompleted) Key() models.InstanceID { return e.InstanceID }

// StepDue fires when a scheduled step came due.
type StepDue struct {
	Owner      models.OwnerID
	InstanceID models.InstanceID
	PhaseID    models.PhaseID
	StepID     models.StepID
}

func (StepDue) Name() string             { return "routine.step.due" }
func (e StepDue) Key() models.InstanceID { return e.InstanceID }

// TriggerDue fires when a scheduled trigger came due.
type TriggerDue struct {
	Owner      models.OwnerID
	InstanceID models.InstanceID
	TriggerID  models.TriggerID
}

func (TriggerDue) Name() string             { return "routine.trigger.due" }
func (e TriggerDue) Key() models.InstanceID { return e.InstanceID }

// StepCompleted is the common shape of the three step-completion events.
type StepCompleted interface {
	Event
	CompletedStep() models.StepID
	CompletedPhase() models.PhaseID
	CompletedOwner() models.OwnerID
}

// MessageStepSent is published when a message step was sent and recorded.
type MessageStepSent struct {
	Owner      models.OwnerID
	InstanceID models.InstanceID
	PhaseID    models.PhaseID
	StepID     models.StepID
}

func (MessageStepSent) Name() string                    { return "routine.step.message-sent" }
func (e MessageStepSent) Key() models.InstanceID        { return e.InstanceID }
func (e MessageStepSent) CompletedStep() models.StepID  { return e.StepID }
func (e MessageStepSent) CompletedPhase() models.PhaseID { return e.PhaseID }
func (e MessageStepSent) CompletedOwner() models.OwnerID { return e.Owner }

// ActionStepConfirmed is published when a confirmable action step's linked
// task was completed.
type ActionStepConfirmed struct {
	Owner      models.OwnerID
	InstanceID models.InstanceID
	PhaseID    models.PhaseID
	StepID     models.StepID
}

func (ActionStepConfirmed) Name() string                    { return "routine.step.action-confirmed" }
func (e ActionStepConfirmed) Key() models.InstanceID        { return e.InstanceID }
func (e ActionStepConfirmed) CompletedStep() models.StepID  { return e.StepID }
func (e ActionStepConfirmed) CompletedPhase() models.PhaseID { return e.PhaseID }
func (e ActionStepConfirmed) CompletedOwner() models.OwnerID { return e.Owner }

// ParameterSet is published when a parameter request step's answer was bound.
type ParameterSet struct {
	Owner        models.OwnerID
	InstanceID   models.InstanceID
	PhaseID      models.PhaseID
	StepID       models.StepID
	ParameterKey string
}

func (ParameterSet) Name() string                    { return "routine.parameter.set" }
func (e ParameterSet) Key() models.InstanceID        { return e.InstanceID }
func (e ParameterSet) CompletedStep() models.StepID  { return e.StepID }
func (e ParameterSet) CompletedPhase() models.PhaseID { return e.PhaseID }
func (e ParameterSet) CompletedOwner() models.OwnerID { return e.Owner }

// SchedulesUpdated summarizes which steps and triggers were rescheduled after
// a parameter capture, for observability.
type SchedulesUpdated struct {
	Owner      models.OwnerID
	InstanceID models.InstanceID
	StepIDs    []ScheduledStepRef
	TriggerIDs []models.TriggerID
}

// ScheduledStepRef names one rescheduled step.
type ScheduledStepRef struct {
	PhaseID models.PhaseID
	StepID  models.StepID
}

func (SchedulesUpdated) Name() string             { return "routine.schedules.updated" }
func (e SchedulesUpdated) Key() models.InstanceID { return e.InstanceID }

// StopRoutineForToday asks the engine to cancel the rest of today's iteration
// without abandoning the routine.
type StopRoutineForToday struct {
	Owner      models.OwnerID
	InstanceID models.InstanceID
	Reason     string
}

func (StopRoutineForToday) Name() string             { return "routine.stop-today" }
func (e StopRoutineForToday) Key() models.InstanceID { return e.InstanceID }

// StoppedTodaysRoutine confirms a stop-for-today request was processed.
type StoppedTodaysRoutine struct {
	Owner      models.OwnerID
	InstanceID models.InstanceID
}

func (StoppedTodaysRoutine) Name() string             { return "routine.stopped-today" }
func (e StoppedTodaysRoutine) Key() models.InstanceID { return e.InstanceID }

// TaskCompleted reports that the task collaborator completed a task.
type TaskCompleted struct {
	Owner  models.OwnerID
	TaskID string
}

func (TaskCompleted) Name() string           { return "task.completed" }
func (TaskCompleted) Key() models.InstanceID { return "" }

// TaskRemoved reports that the task collaborator removed a task.
type TaskRemoved struct {
	Owner     models.OwnerID
	TaskID    string
	TaskTitle string
	Completed bool
}

func (TaskRemoved) Name() string           { return "task.removed" }
func (TaskRemoved) Key() models.InstanceID { return "" }

// TaskLinkBroken reports that a task linked to an action step disappeared
// without being completed. The step's concept must be dropped so the step
// can be issued again.
type TaskLinkBroken struct {
	Owner      models.OwnerID
	InstanceID models.InstanceID
	StepID     models.StepID
	TaskID     string
	TaskTitle  string
}

func (TaskLinkBroken) Name() string             { return "routine.task-link.broken" }
func (e TaskLinkBroken) Key() models.InstanceID { return e.InstanceID }

// TriggerScheduled reports a trigger's fire time was arranged.
type TriggerScheduled struct {
	InstanceID  models.InstanceID
	TriggerID   models.TriggerID
	ScheduledAt time.Time
}

func (TriggerScheduled) Name() string             { return "routine.trigger.scheduled" }
func (e TriggerScheduled) Key() models.InstanceID { return e.InstanceID }

// StepScheduled reports a step's fire time was arranged.
type StepScheduled struct {
	InstanceID  models.InstanceID
	PhaseID     models.PhaseID
	StepID      models.StepID
	ScheduledAt time.Time
}

func (StepScheduled) Name() string             { return "routine.step.scheduled" }
func (e StepScheduled) Key() models.InstanceID { return e.InstanceID }

// PhaseScheduled reports a phase activation check was arranged.
type PhaseScheduled struct {
	InstanceID  models.InstanceID
	PhaseID     models.PhaseID
	ScheduledAt time.Time
}

func (PhaseScheduled) Name() string             { return "routine.phase.scheduled" }
func (e PhaseScheduled) Key() models.InstanceID { return e.InstanceID }

// PhaseIterationsScheduled reports a phase's recurrence was arranged.
type PhaseIterationsScheduled struct {
	InstanceID models.InstanceID
	PhaseID    models.PhaseID
}

func (PhaseIterationsScheduled) Name() string             { return "routine.phase.iterations.scheduled" }
func (e PhaseIterationsScheduled) Key() models.InstanceID { return e.InstanceID }
