package routine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/models"
)

// Answer binds free text to the owner's oldest pending question. The text is
// parsed against the question's declared parameter type; a value that does
// not parse re-asks the question and returns the parse error. Once the last
// setup answer of a not-yet-started routine arrives, the routine starts.
func (e *Engine) Answer(ctx context.Context, owner models.OwnerID, text string) (models.PendingClarification, error) {
	pending, err := e.clarifications.ListClarificationsByOwner(ctx, owner)
	if err != nil {
		return models.PendingClarification{}, err
	}
	if len(pending) == 0 {
		return models.PendingClarification{}, ErrClarificationNotFound
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].AskedAt.Before(pending[j].AskedAt) })
	clarification := pending[0]

	param, err := models.ParseTypedParameter(text, clarification.ParameterType)
	if err != nil {
		reprompt := fmt.Sprintf("I could not make sense of that. %s", clarification.Question)
		if sendErr := e.messenger.SendMessage(ctx, owner, reprompt); sendErr != nil {
			slog.Error("Failed to re-ask question", "owner", string(owner), "error", sendErr)
		}
		return clarification, err
	}

	inst, tmpl, err := e.load(ctx, owner, clarification.InstanceID)
	if err != nil {
		return clarification, err
	}
	inst = inst.WithParameter(clarification.ParameterKey, param)
	if err := e.instances.SaveInstance(ctx, inst); err != nil {
		return clarification, err
	}
	if err := e.clarifications.RemoveClarification(ctx, owner, clarification.InstanceID, clarification.StepID); err != nil {
		slog.Error("Failed to remove answered clarification",
			"instance_id", string(inst.ID), "step_id", string(clarification.StepID), "error", err)
	}
	e.recordEvent(ctx, inst, models.EventStepParameterSet, map[string]string{
		"stepId":       string(clarification.StepID),
		"parameterKey": clarification.ParameterKey,
	})

	if !inst.HasParameter(models.ParameterKeyForAnchor(models.AnchorRoutineStarted)) && setupComplete(tmpl, inst) {
		if inst, err = e.startRoutine(ctx, inst); err != nil {
			return clarification, err
		}
	}

	e.publisher.Publish(events.ParameterSet{
		Owner:        owner,
		InstanceID:   inst.ID,
		PhaseID:      clarification.PhaseID,
		StepID:       clarification.StepID,
		ParameterKey: clarification.ParameterKey,
	})
	return clarification, nil
}

// setupComplete reports whether every setup parameter has been captured.
func setupComplete(tmpl models.RoutineTemplate, inst models.RoutineInstance) bool {
	for _, step := range tmpl.SetupSteps {
		if request, ok := step.(models.ParameterRequestStep); ok && !inst.HasParameter(request.ParameterKey) {
			return false
		}
	}
	return true
}
