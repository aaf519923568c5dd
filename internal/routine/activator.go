package routine

import (
	"context"
	"log/slog"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/models"
)

// ActivatePhase makes the phase current, opens its first iteration, and
// arranges the phase's step and recurrence schedules. The caller must have
// deactivated the previous phase first.
func (e *Engine) ActivatePhase(ctx context.Context, inst models.RoutineInstance, phase models.RoutinePhase) error {
	now := e.clock.Now()
	inst = inst.WithCurrentPhase(phase.ID, now)
	if err := e.instances.SaveInstance(ctx, inst); err != nil {
		return err
	}

	e.scheduleSteps(ctx, inst, phase)
	if err := e.scheduler.SchedulePhaseIterations(ctx, inst, phase); err != nil {
		slog.Error("Failed to schedule phase iterations",
			"instance_id", string(inst.ID), "phase_id", string(phase.ID), "error", err)
	}

	e.recordEvent(ctx, inst, models.EventPhaseActivated, map[string]string{"phaseId": string(phase.ID)})
	e.publisher.Publish(events.PhaseActivated{
		Owner:      inst.Owner,
		InstanceID: inst.ID,
		PhaseID:    phase.ID,
	})
	slog.Debug("Phase activated", "instance_id", string(inst.ID), "phase_id", string(phase.ID))
	return nil
}

// scheduleSteps registers every step of the phase for the open iteration.
// A step whose time cannot be resolved yet is skipped by the scheduler and
// picked up again once the missing parameter is captured; a hard scheduling
// failure is contained to the one step.
func (e *Engine) scheduleSteps(ctx context.Context, inst models.RoutineInstance, phase models.RoutinePhase) {
	for _, step := range phase.Steps {
		if err := e.scheduler.ScheduleStep(ctx, inst, step, phase.ID); err != nil {
			slog.Error("Failed to schedule step",
				"instance_id", string(inst.ID), "phase_id", string(phase.ID), "step_id", string(step.StepID()), "error", err)
		}
	}
}
