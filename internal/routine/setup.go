package routine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/models"
)

// SetupRoutine instantiates a template for an owner. Answers for the
// template's setup parameters may be provided up front; whatever is missing
// is asked through the messenger and the routine starts once the last answer
// arrives. With all answers in hand the routine starts immediately.
func (e *Engine) SetupRoutine(ctx context.Context, owner models.OwnerID, templateID models.TemplateID, answers map[string]string) (models.RoutineInstance, error) {
	tmpl, err := e.templates.FindTemplate(ctx, templateID)
	if err != nil {
		return models.RoutineInstance{}, fmt.Errorf("loading template %s: %w", templateID, err)
	}

	params := make(map[string]models.TypedParameter)
	var missing []models.ParameterRequestStep
	for _, step := range tmpl.SetupSteps {
		request, ok := step.(models.ParameterRequestStep)
		if !ok {
			continue
		}
		raw, provided := answers[request.ParameterKey]
		if !provided {
			missing = append(missing, request)
			continue
		}
		p, err := models.ParseTypedParameter(raw, request.ParameterType)
		if err != nil {
			return models.RoutineInstance{}, fmt.Errorf("answer for %q: %w", request.ParameterKey, err)
		}
		params[request.ParameterKey] = p
	}

	inst := models.NewRoutineInstance(tmpl.ID, owner, params)
	if err := e.instances.SaveInstance(ctx, inst); err != nil {
		return models.RoutineInstance{}, err
	}
	slog.Debug("Routine instance created",
		"instance_id", string(inst.ID), "template_id", string(tmpl.ID), "owner", string(owner))

	for _, step := range tmpl.SetupSteps {
		if message, ok := step.(models.MessageStep); ok {
			if err := e.messenger.SendMessage(ctx, owner, SubstituteVariables(message.Message, inst)); err != nil {
				slog.Error("Failed to send setup message", "instance_id", string(inst.ID), "error", err)
			}
		}
	}

	if len(missing) > 0 {
		for _, request := range missing {
			if err := e.executeParameterRequest(ctx, inst, models.RoutinePhase{}, request); err != nil {
				return models.RoutineInstance{}, err
			}
		}
		return inst, nil
	}
	return e.startRoutine(ctx, inst)
}

// startRoutine stamps the start anchor and announces the routine as running.
func (e *Engine) startRoutine(ctx context.Context, inst models.RoutineInstance) (models.RoutineInstance, error) {
	inst = inst.WithParameter(
		models.ParameterKeyForAnchor(models.AnchorRoutineStarted),
		models.InstantParameter(e.clock.Now()),
	)
	if err := e.instances.SaveInstance(ctx, inst); err != nil {
		return models.RoutineInstance{}, err
	}
	e.recordEvent(ctx, inst, models.EventRoutineStarted, map[string]string{"templateId": string(inst.TemplateID)})
	e.publisher.Publish(events.RoutineStarted{Owner: inst.Owner, InstanceID: inst.ID})
	slog.Debug("Routine started", "instance_id", string(inst.ID))
	return inst, nil
}
