package routine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/models"
)

// HandleTriggerDue fires a trigger whose scheduled time arrived.
func (e *Engine) HandleTriggerDue(ctx context.Context, ev events.TriggerDue) error {
	inst, tmpl, err := e.load(ctx, ev.Owner, ev.InstanceID)
	if err != nil {
		return err
	}
	trigger, ok := tmpl.FindTrigger(ev.TriggerID)
	if !ok {
		return fmt.Errorf("trigger %s missing from template %s: %w", ev.TriggerID, tmpl.ID, ErrTemplateNotFound)
	}
	_, err = e.executeTriggerEffect(ctx, inst, trigger)
	return err
}

// executeTriggerEffect runs one trigger's effect and returns the possibly
// updated instance. A failing effect affects only its own trigger; callers
// evaluating several triggers log and move on.
func (e *Engine) executeTriggerEffect(ctx context.Context, inst models.RoutineInstance, trigger models.RoutineTrigger) (models.RoutineInstance, error) {
	switch effect := trigger.Effect.(type) {
	case models.SendMessageEffect:
		text := SubstituteVariables(effect.Message, inst)
		if err := e.messenger.SendMessage(ctx, inst.Owner, text); err != nil {
			return inst, fmt.Errorf("sending trigger message: %w", err)
		}
	case models.CreateTaskEffect:
		task := models.Task{
			ID:        uuid.NewString(),
			Owner:     inst.Owner,
			Title:     SubstituteVariables(effect.TaskDescription, inst),
			CreatedAt: e.clock.Now(),
		}
		if !effect.ExpiryDate.IsZero() {
			expiry := effect.ExpiryDate
			task.ExpiresAt = &expiry
		}
		created, err := e.tasks.CreateTask(ctx, task)
		if err != nil {
			return inst, fmt.Errorf("creating trigger task: %w", err)
		}
		if effect.ParameterKey != "" {
			inst = inst.WithParameter(effect.ParameterKey, models.StringParameter(created.ID))
			if err := e.instances.SaveInstance(ctx, inst); err != nil {
				return inst, fmt.Errorf("saving task parameter %q: %w", effect.ParameterKey, err)
			}
		}
		slog.Debug("Trigger task created", "instance_id", string(inst.ID), "trigger_id", string(trigger.ID), "task_id", created.ID)
	default:
		return inst, fmt.Errorf("%w: %T", models.ErrUnknownEffectType, trigger.Effect)
	}

	e.recordEvent(ctx, inst, models.EventTriggerEffectExecuted, map[string]string{
		"triggerId": string(trigger.ID),
		"effect":    trigger.Effect.EffectType(),
	})
	return inst, nil
}
