// Package routine implements the routine engine: phase activation and
// deactivation, step execution, trigger evaluation, and the event handlers
// that tie them together. The engine itself holds no state; everything it
// needs lives behind the store, scheduler and messenger ports so the same
// logic runs against the in-memory, SQLite and Postgres backends.
package routine

import (
	"context"
	"errors"
	"time"

	"github.com/neurospicy/routinekit/internal/models"
)

// Errors returned by the engine and its ports.
var (
	// ErrInstanceNotFound indicates the referenced routine instance does not exist.
	ErrInstanceNotFound = errors.New("routine instance not found")
	// ErrTemplateNotFound indicates the referenced routine template does not exist.
	ErrTemplateNotFound = errors.New("routine template not found")
	// ErrTaskNotFound indicates the referenced task does not exist.
	ErrTaskNotFound = errors.New("task not found")
	// ErrClarificationNotFound indicates no pending question matches the request.
	ErrClarificationNotFound = errors.New("pending clarification not found")
	// ErrStepNotDue indicates a fired step no longer belongs to the active phase.
	ErrStepNotDue = errors.New("step is not due in the current phase")
)

// TemplateStore persists routine templates.
type TemplateStore interface {
	SaveTemplate(ctx context.Context, tmpl models.RoutineTemplate) error
	FindTemplate(ctx context.Context, id models.TemplateID) (models.RoutineTemplate, error)
	ListTemplates(ctx context.Context) ([]models.RoutineTemplate, error)
}

// InstanceStore persists routine instances. FindByTaskConcept locates the
// instances holding a concept for the given task, used when task events
// arrive without an instance id. ListAllInstances feeds schedule recovery
// after a restart.
type InstanceStore interface {
	SaveInstance(ctx context.Context, inst models.RoutineInstance) error
	FindInstance(ctx context.Context, owner models.OwnerID, id models.InstanceID) (models.RoutineInstance, error)
	ListInstancesByOwner(ctx context.Context, owner models.OwnerID) ([]models.RoutineInstance, error)
	ListAllInstances(ctx context.Context) ([]models.RoutineInstance, error)
	FindByTaskConcept(ctx context.Context, owner models.OwnerID, taskID string) ([]models.RoutineInstance, error)
}

// TaskStore manages tasks created on behalf of routines.
type TaskStore interface {
	CreateTask(ctx context.Context, task models.Task) (models.Task, error)
	FindTask(ctx context.Context, owner models.OwnerID, id string) (models.Task, error)
	CompleteTask(ctx context.Context, owner models.OwnerID, id string) (models.Task, error)
	RemoveTask(ctx context.Context, owner models.OwnerID, id string) (models.Task, error)
	ListTasksByOwner(ctx context.Context, owner models.OwnerID) ([]models.Task, error)
}

// ClarificationStore tracks questions the engine asked and is still waiting
// on. Entries are keyed by owner and step.
type ClarificationStore interface {
	SaveClarification(ctx context.Context, c models.PendingClarification) error
	ListClarificationsByOwner(ctx context.Context, owner models.OwnerID) ([]models.PendingClarification, error)
	RemoveClarification(ctx context.Context, owner models.OwnerID, instanceID models.InstanceID, stepID models.StepID) error
}

// EventLog records the audit trail of engine decisions. Append failures are
// logged and never fail the operation that produced the entry.
type EventLog interface {
	AppendEvent(ctx context.Context, entry models.RoutineEventLogEntry) error
	ListEvents(ctx context.Context, instanceID models.InstanceID) ([]models.RoutineEventLogEntry, error)
}

// Messenger delivers routine messages to the owner's chat channel.
type Messenger interface {
	SendMessage(ctx context.Context, owner models.OwnerID, text string) error
}

// Scheduler registers future work for an instance. Implementations fire the
// corresponding Due events through the event bus when the time arrives.
// Schedule calls for times that cannot be resolved yet are skipped, not
// failed; Remove calls for unknown keys are no-ops.
type Scheduler interface {
	ScheduleTrigger(ctx context.Context, inst models.RoutineInstance, trigger models.RoutineTrigger) error
	ScheduleStep(ctx context.Context, inst models.RoutineInstance, step models.RoutineStep, phaseID models.PhaseID) error
	SchedulePhaseActivation(ctx context.Context, inst models.RoutineInstance, phase models.RoutinePhase) error
	SchedulePhaseIterations(ctx context.Context, inst models.RoutineInstance, phase models.RoutinePhase) error
	RemoveStepSchedule(ctx context.Context, owner models.OwnerID, instanceID models.InstanceID, phaseID models.PhaseID, stepID models.StepID) error
	RemovePhaseIterationSchedule(ctx context.Context, owner models.OwnerID, instanceID models.InstanceID, phaseID models.PhaseID) error
	RemovePhaseActivationSchedule(ctx context.Context, owner models.OwnerID, instanceID models.InstanceID, phaseID models.PhaseID) error
}

// Clock abstracts time for the engine so tests can pin "now".
type Clock interface {
	Now() time.Time
}

// SystemClock is the Clock used outside of tests.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always reports the same instant. Test helper.
type FixedClock struct{ T time.Time }

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return c.T }
