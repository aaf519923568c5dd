package routine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/models"
)

// DeactivatePhase tears down everything the phase scheduled or left pending:
// the recurrence entry, timers of steps not yet completed, open
// clarifications, and uncompleted linked tasks. Tasks the owner already
// completed stay in the store. Cleanup is best effort; individual failures are
// logged and the teardown continues, and the deactivation event is published
// and recorded regardless, so downstream handlers always observe the phase
// as left.
func (e *Engine) DeactivatePhase(ctx context.Context, inst models.RoutineInstance, phase models.RoutinePhase) (models.RoutineInstance, error) {
	if err := e.scheduler.RemovePhaseIterationSchedule(ctx, inst.Owner, inst.ID, phase.ID); err != nil {
		slog.Error("Failed to remove phase iteration schedule",
			"instance_id", string(inst.ID), "phase_id", string(phase.ID), "error", err)
	}

	iteration, hasIteration := inst.CurrentIteration()
	for _, step := range phase.Steps {
		stepID := step.StepID()
		if !hasIteration || iteration.PhaseID != phase.ID || !iteration.HasCompleted(stepID) {
			if err := e.scheduler.RemoveStepSchedule(ctx, inst.Owner, inst.ID, phase.ID, stepID); err != nil {
				slog.Error("Failed to remove step schedule",
					"instance_id", string(inst.ID), "step_id", string(stepID), "error", err)
			}
		}
		if err := e.clarifications.RemoveClarification(ctx, inst.Owner, inst.ID, stepID); err != nil && !errors.Is(err, ErrClarificationNotFound) {
			slog.Error("Failed to remove pending clarification",
				"instance_id", string(inst.ID), "step_id", string(stepID), "error", err)
		}
	}

	for _, concept := range inst.Concepts {
		if _, ok := phase.FindStep(concept.LinkedStep); !ok {
			continue
		}
		task, err := e.tasks.FindTask(ctx, inst.Owner, concept.TaskID)
		switch {
		case errors.Is(err, ErrTaskNotFound):
			// already gone
		case err != nil:
			slog.Error("Failed to look up task of deactivated phase",
				"instance_id", string(inst.ID), "task_id", concept.TaskID, "error", err)
		case !task.Completed:
			if _, err := e.tasks.RemoveTask(ctx, inst.Owner, concept.TaskID); err != nil && !errors.Is(err, ErrTaskNotFound) {
				slog.Error("Failed to remove task of deactivated phase",
					"instance_id", string(inst.ID), "task_id", concept.TaskID, "error", err)
			}
		}
		inst = inst.WithoutConcept(concept.TaskID)
	}

	if err := e.instances.SaveInstance(ctx, inst); err != nil {
		slog.Error("Failed to save instance during phase deactivation",
			"instance_id", string(inst.ID), "phase_id", string(phase.ID), "error", err)
	}

	e.recordEvent(ctx, inst, models.EventPhaseDeactivated, map[string]string{"phaseId": string(phase.ID)})
	e.publisher.Publish(events.PhaseDeactivated{
		Owner:      inst.Owner,
		InstanceID: inst.ID,
		PhaseID:    phase.ID,
	})
	slog.Debug("Phase deactivated", "instance_id", string(inst.ID), "phase_id", string(phase.ID))
	return inst, nil
}
