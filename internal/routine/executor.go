package routine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/models"
)

// HandleStepDue runs a step whose scheduled time arrived. Steps of a phase
// that is no longer current are skipped: the schedule entry outlived a phase
// transition and carries no work anymore.
func (e *Engine) HandleStepDue(ctx context.Context, ev events.StepDue) error {
	inst, tmpl, err := e.load(ctx, ev.Owner, ev.InstanceID)
	if err != nil {
		return err
	}
	if inst.CurrentPhaseID == nil || *inst.CurrentPhaseID != ev.PhaseID {
		slog.Debug("Skipping step of inactive phase",
			"instance_id", string(ev.InstanceID), "phase_id", string(ev.PhaseID), "step_id", string(ev.StepID))
		return nil
	}
	phase, ok := tmpl.FindPhase(ev.PhaseID)
	if !ok {
		return fmt.Errorf("phase %s missing from template %s: %w", ev.PhaseID, tmpl.ID, ErrTemplateNotFound)
	}
	step, ok := phase.FindStep(ev.StepID)
	if !ok {
		return fmt.Errorf("step %s missing from phase %s: %w", ev.StepID, ev.PhaseID, ErrStepNotDue)
	}
	if it, found := inst.CurrentIteration(); found && it.HasCompleted(ev.StepID) {
		slog.Debug("Step already completed in current iteration",
			"instance_id", string(ev.InstanceID), "step_id", string(ev.StepID))
		return nil
	}
	return e.executeStep(ctx, inst, phase, step)
}

func (e *Engine) executeStep(ctx context.Context, inst models.RoutineInstance, phase models.RoutinePhase, step models.RoutineStep) error {
	switch s := step.(type) {
	case models.ParameterRequestStep:
		return e.executeParameterRequest(ctx, inst, phase, s)
	case models.MessageStep:
		return e.executeMessage(ctx, inst, phase, s)
	case models.ActionStep:
		return e.executeAction(ctx, inst, phase, s)
	default:
		return fmt.Errorf("%w: %T", models.ErrUnknownStepType, step)
	}
}

// executeParameterRequest sends the question and parks a pending
// clarification. The step completes when the answer is bound, not now.
func (e *Engine) executeParameterRequest(ctx context.Context, inst models.RoutineInstance, phase models.RoutinePhase, step models.ParameterRequestStep) error {
	question := SubstituteVariables(step.Question, inst)
	if err := e.messenger.SendMessage(ctx, inst.Owner, question); err != nil {
		return fmt.Errorf("sending parameter question for step %s: %w", step.ID, err)
	}
	clarification := models.PendingClarification{
		Owner:         inst.Owner,
		InstanceID:    inst.ID,
		PhaseID:       phase.ID,
		StepID:        step.ID,
		Question:      step.Question,
		ParameterKey:  step.ParameterKey,
		ParameterType: step.ParameterType,
		AskedAt:       e.clock.Now(),
	}
	if err := e.clarifications.SaveClarification(ctx, clarification); err != nil {
		return fmt.Errorf("saving clarification for step %s: %w", step.ID, err)
	}
	e.recordEvent(ctx, inst, models.EventStepParameterRequested, map[string]string{
		"stepId":       string(step.ID),
		"parameterKey": step.ParameterKey,
	})
	slog.Debug("Parameter question sent", "instance_id", string(inst.ID), "step_id", string(step.ID), "parameter_key", step.ParameterKey)
	return nil
}

// executeMessage sends the message and records the step as done.
func (e *Engine) executeMessage(ctx context.Context, inst models.RoutineInstance, phase models.RoutinePhase, step models.MessageStep) error {
	text := SubstituteVariables(step.Message, inst)
	if err := e.messenger.SendMessage(ctx, inst.Owner, text); err != nil {
		return fmt.Errorf("sending message for step %s: %w", step.ID, err)
	}
	e.recordEvent(ctx, inst, models.EventStepMessageSent, map[string]string{"stepId": string(step.ID)})
	e.publisher.Publish(events.MessageStepSent{
		Owner:      inst.Owner,
		InstanceID: inst.ID,
		PhaseID:    phase.ID,
		StepID:     step.ID,
	})
	return nil
}

// executeAction sends the instruction. A confirmable action gets a linked
// task; the step then completes only when that task does. A fire-and-forget
// action is never recorded as completed.
func (e *Engine) executeAction(ctx context.Context, inst models.RoutineInstance, phase models.RoutinePhase, step models.ActionStep) error {
	text := SubstituteVariables(step.Message, inst)
	if err := e.messenger.SendMessage(ctx, inst.Owner, text); err != nil {
		return fmt.Errorf("sending action message for step %s: %w", step.ID, err)
	}
	if step.ExpectConfirmation {
		task := models.Task{
			ID:        uuid.NewString(),
			Owner:     inst.Owner,
			Title:     text,
			CreatedAt: e.clock.Now(),
		}
		if step.ExpectedDurationMinutes > 0 {
			expiry := e.clock.Now().Add(time.Duration(step.ExpectedDurationMinutes) * time.Minute)
			task.ExpiresAt = &expiry
		}
		created, err := e.tasks.CreateTask(ctx, task)
		if err != nil {
			return fmt.Errorf("creating task for action step %s: %w", step.ID, err)
		}
		inst = inst.WithConcept(models.TaskConcept{TaskID: created.ID, LinkedStep: step.ID})
		if err := e.instances.SaveInstance(ctx, inst); err != nil {
			return fmt.Errorf("saving task concept for step %s: %w", step.ID, err)
		}
		slog.Debug("Confirmable action task created", "instance_id", string(inst.ID), "step_id", string(step.ID), "task_id", created.ID)
	}
	e.recordEvent(ctx, inst, models.EventActionStepMessageSent, map[string]string{
		"stepId":             string(step.ID),
		"expectConfirmation": fmt.Sprintf("%t", step.ExpectConfirmation),
	})
	return nil
}
