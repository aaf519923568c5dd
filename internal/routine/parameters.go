package routine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/models"
)

// HandleParameterSet reacts to a freshly captured parameter: step and trigger
// schedules whose time depends on the parameter are recomputed, triggers
// waiting on exactly this parameter fire, and phases gated on it activate.
func (e *Engine) HandleParameterSet(ctx context.Context, ev events.ParameterSet) error {
	inst, tmpl, err := e.load(ctx, ev.Owner, ev.InstanceID)
	if err != nil {
		return err
	}

	var stepRefs []events.ScheduledStepRef
	if inst.CurrentPhaseID != nil {
		if phase, ok := tmpl.FindPhase(*inst.CurrentPhaseID); ok {
			for _, step := range phase.Steps {
				tod := step.StepTimeOfDay()
				if tod == nil || !timeOfDayReferences(*tod, ev.ParameterKey) {
					continue
				}
				if err := e.scheduler.ScheduleStep(ctx, inst, step, phase.ID); err != nil {
					slog.Error("Failed to reschedule step after parameter capture",
						"instance_id", string(inst.ID), "step_id", string(step.StepID()), "error", err)
					continue
				}
				stepRefs = append(stepRefs, events.ScheduledStepRef{PhaseID: phase.ID, StepID: step.StepID()})
			}
		}
	}

	var triggerIDs []models.TriggerID
	for _, trigger := range tmpl.Triggers {
		if !conditionReferences(trigger.Condition, ev.ParameterKey) {
			continue
		}
		if err := e.scheduler.ScheduleTrigger(ctx, inst, trigger); err != nil {
			slog.Error("Failed to reschedule trigger after parameter capture",
				"instance_id", string(inst.ID), "trigger_id", string(trigger.ID), "error", err)
			continue
		}
		triggerIDs = append(triggerIDs, trigger.ID)
	}
	for _, phase := range tmpl.Phases {
		if phase.Condition == nil || !conditionReferences(phase.Condition, ev.ParameterKey) {
			continue
		}
		if inst.CurrentPhaseID != nil && *inst.CurrentPhaseID == phase.ID {
			continue
		}
		if err := e.scheduler.SchedulePhaseActivation(ctx, inst, phase); err != nil {
			slog.Error("Failed to reschedule phase activation after parameter capture",
				"instance_id", string(inst.ID), "phase_id", string(phase.ID), "error", err)
		}
	}

	if len(stepRefs) > 0 || len(triggerIDs) > 0 {
		e.publisher.Publish(events.SchedulesUpdated{
			Owner:      inst.Owner,
			InstanceID: inst.ID,
			StepIDs:    stepRefs,
			TriggerIDs: triggerIDs,
		})
	}

	for _, trigger := range tmpl.Triggers {
		c, ok := trigger.Condition.(models.AfterParameterSet)
		if !ok || c.ParameterKey != ev.ParameterKey {
			continue
		}
		updated, err := e.executeTriggerEffect(ctx, inst, trigger)
		if err != nil {
			slog.Error("Trigger effect failed",
				"instance_id", string(inst.ID), "trigger_id", string(trigger.ID), "error", err)
			continue
		}
		inst = updated
	}

	for _, phase := range tmpl.Phases {
		c, ok := phase.Condition.(models.AfterParameterSet)
		if !ok || c.ParameterKey != ev.ParameterKey {
			continue
		}
		if inst.CurrentPhaseID != nil && *inst.CurrentPhaseID == phase.ID {
			continue
		}
		return e.TransitionTo(ctx, inst, tmpl, phase)
	}
	return nil
}

// timeOfDayReferences reports whether the time of day depends on the
// parameter key.
func timeOfDayReferences(tod models.TimeOfDay, key string) bool {
	switch tod.Kind {
	case models.TimeOfDayReference:
		return tod.Reference == key
	case models.TimeOfDayExpression:
		return expressionReferences(tod.Expression, key)
	default:
		return false
	}
}

// conditionReferences reports whether a time-based condition's fire time
// depends on the parameter key.
func conditionReferences(c models.TriggerCondition, key string) bool {
	switch cond := c.(type) {
	case models.AfterDuration:
		return cond.Reference == key
	case models.AfterEvent:
		return expressionReferences(cond.TimeExpression, key)
	case models.AtTimeExpression:
		return expressionReferences(cond.TimeExpression, key)
	default:
		return false
	}
}

func expressionReferences(expr, key string) bool {
	return strings.Contains(expr, "${"+key+"}") || expr == key
}
