package routine

import (
	"context"
	"log/slog"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/models"
)

// HandleRoutineStartedAnchor stamps the ROUTINE_START anchor and arranges
// schedules gated on the routine-started event.
func (e *Engine) HandleRoutineStartedAnchor(ctx context.Context, ev events.RoutineStarted) error {
	return e.handleAnchor(ctx, ev.Owner, ev.InstanceID, models.AnchorRoutineStarted, "")
}

// HandlePhaseEnteredAnchor stamps the PHASE_ENTERED anchor when a phase
// becomes current.
func (e *Engine) HandlePhaseEnteredAnchor(ctx context.Context, ev events.PhaseActivated) error {
	return e.handleAnchor(ctx, ev.Owner, ev.InstanceID, models.AnchorPhaseEntered, ev.PhaseID)
}

// HandlePhaseLeftAnchor stamps the PHASE_LEFT anchor when a phase is left.
func (e *Engine) HandlePhaseLeftAnchor(ctx context.Context, ev events.PhaseDeactivated) error {
	return e.handleAnchor(ctx, ev.Owner, ev.InstanceID, models.AnchorPhaseLeft, ev.PhaseID)
}

// handleAnchor records the anchor instant as an instance parameter and
// (re)schedules every trigger and phase whose AfterEvent condition waits on
// this anchor. Conditions narrowed to a phase title only react to that
// phase's events.
func (e *Engine) handleAnchor(ctx context.Context, owner models.OwnerID, instanceID models.InstanceID, anchor models.AnchorEvent, phaseID models.PhaseID) error {
	inst, tmpl, err := e.load(ctx, owner, instanceID)
	if err != nil {
		return err
	}

	key := models.ParameterKeyForAnchor(anchor)
	inst = inst.WithParameter(key, models.InstantParameter(e.clock.Now()))
	if err := e.instances.SaveInstance(ctx, inst); err != nil {
		return err
	}
	slog.Debug("Anchor stamped", "instance_id", string(inst.ID), "anchor", key)

	for _, trigger := range tmpl.Triggers {
		c, ok := trigger.Condition.(models.AfterEvent)
		if !ok || c.Event != anchor || !anchorPhaseMatches(c.PhaseTitle, phaseID) {
			continue
		}
		if err := e.scheduler.ScheduleTrigger(ctx, inst, trigger); err != nil {
			slog.Error("Failed to schedule trigger on anchor",
				"instance_id", string(inst.ID), "trigger_id", string(trigger.ID), "error", err)
		}
	}
	for _, phase := range tmpl.Phases {
		c, ok := phase.Condition.(models.AfterEvent)
		if !ok || c.Event != anchor || !anchorPhaseMatches(c.PhaseTitle, phaseID) {
			continue
		}
		if inst.CurrentPhaseID != nil && *inst.CurrentPhaseID == phase.ID {
			continue
		}
		if err := e.scheduler.SchedulePhaseActivation(ctx, inst, phase); err != nil {
			slog.Error("Failed to schedule phase activation on anchor",
				"instance_id", string(inst.ID), "phase_id", string(phase.ID), "error", err)
		}
	}
	return nil
}

func anchorPhaseMatches(conditionPhaseTitle string, phaseID models.PhaseID) bool {
	if conditionPhaseTitle == "" {
		return true
	}
	return models.PhaseIDFor(conditionPhaseTitle) == phaseID
}
