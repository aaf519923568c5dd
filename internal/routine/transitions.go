package routine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/models"
)

// TransitionTo moves the instance to the target phase. The current phase is
// always fully deactivated before the target activates, so at most one phase
// holds schedules at any time.
func (e *Engine) TransitionTo(ctx context.Context, inst models.RoutineInstance, tmpl models.RoutineTemplate, target models.RoutinePhase) error {
	if inst.CurrentPhaseID != nil {
		if *inst.CurrentPhaseID == target.ID {
			return nil
		}
		if current, ok := tmpl.FindPhase(*inst.CurrentPhaseID); ok {
			inst, _ = e.DeactivatePhase(ctx, inst, current)
		} else {
			slog.Error("Current phase missing from template, activating target anyway",
				"instance_id", string(inst.ID), "phase_id", string(*inst.CurrentPhaseID))
		}
	}
	return e.ActivatePhase(ctx, inst, target)
}

// HandlePhaseDue reacts to a scheduled phase activation coming due.
func (e *Engine) HandlePhaseDue(ctx context.Context, ev events.PhaseDue) error {
	inst, tmpl, err := e.load(ctx, ev.Owner, ev.InstanceID)
	if err != nil {
		return err
	}
	phase, ok := tmpl.FindPhase(ev.PhaseID)
	if !ok {
		return fmt.Errorf("phase %s missing from template %s: %w", ev.PhaseID, tmpl.ID, ErrTemplateNotFound)
	}
	if inst.CurrentPhaseID != nil && *inst.CurrentPhaseID == ev.PhaseID {
		slog.Debug("Phase already active", "instance_id", string(inst.ID), "phase_id", string(phase.ID))
		return nil
	}
	return e.TransitionTo(ctx, inst, tmpl, phase)
}

// HandlePhaseIterationCompleted evaluates completion-count conditions. A
// condition asking for N completions fires once the count reaches N, even
// when the completion that crossed the threshold was never delivered.
// Triggers record their firing on the instance so a later completion cannot
// run the same effect again; phases are guarded by the current-phase check.
func (e *Engine) HandlePhaseIterationCompleted(ctx context.Context, ev events.PhaseIterationCompleted) error {
	inst, tmpl, err := e.load(ctx, ev.Owner, ev.InstanceID)
	if err != nil {
		return err
	}
	count := inst.CompletedIterations(ev.PhaseID)

	for _, trigger := range tmpl.Triggers {
		c, ok := trigger.Condition.(models.AfterPhaseCompletions)
		if !ok || c.PhaseID != ev.PhaseID || count < c.Times || inst.HasFiredTrigger(trigger.ID) {
			continue
		}
		updated, err := e.executeTriggerEffect(ctx, inst, trigger)
		if err != nil {
			slog.Error("Trigger effect failed",
				"instance_id", string(inst.ID), "trigger_id", string(trigger.ID), "error", err)
			continue
		}
		inst = updated.WithFiredTrigger(trigger.ID)
		if err := e.instances.SaveInstance(ctx, inst); err != nil {
			slog.Error("Failed to record trigger firing",
				"instance_id", string(inst.ID), "trigger_id", string(trigger.ID), "error", err)
		}
	}

	for _, phase := range tmpl.Phases {
		c, ok := phase.Condition.(models.AfterPhaseCompletions)
		if !ok || c.PhaseID != ev.PhaseID || count < c.Times {
			continue
		}
		if inst.CurrentPhaseID != nil && *inst.CurrentPhaseID == phase.ID {
			continue
		}
		return e.TransitionTo(ctx, inst, tmpl, phase)
	}
	return nil
}
