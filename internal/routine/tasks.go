package routine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/models"
)

// HandleTaskCompleted routes a task completion to the action steps linked to
// the task. The heavy lifting happens in the per-instance handlers of the
// published ActionStepConfirmed events, which run under the instance lock.
func (e *Engine) HandleTaskCompleted(ctx context.Context, ev events.TaskCompleted) error {
	return e.confirmLinkedSteps(ctx, ev.Owner, ev.TaskID)
}

// HandleTaskRemoved distinguishes a task checked off during removal from one
// simply thrown away. The former confirms the linked step; the latter breaks
// the link so the step stays open.
func (e *Engine) HandleTaskRemoved(ctx context.Context, ev events.TaskRemoved) error {
	if ev.Completed {
		return e.confirmLinkedSteps(ctx, ev.Owner, ev.TaskID)
	}
	instances, err := e.instances.FindByTaskConcept(ctx, ev.Owner, ev.TaskID)
	if err != nil {
		return fmt.Errorf("finding instances for task %s: %w", ev.TaskID, err)
	}
	for _, inst := range instances {
		concept, ok := inst.ConceptForTask(ev.TaskID)
		if !ok {
			continue
		}
		e.publisher.Publish(events.TaskLinkBroken{
			Owner:      ev.Owner,
			InstanceID: inst.ID,
			StepID:     concept.LinkedStep,
			TaskID:     ev.TaskID,
			TaskTitle:  ev.TaskTitle,
		})
	}
	return nil
}

func (e *Engine) confirmLinkedSteps(ctx context.Context, owner models.OwnerID, taskID string) error {
	instances, err := e.instances.FindByTaskConcept(ctx, owner, taskID)
	if err != nil {
		return fmt.Errorf("finding instances for task %s: %w", taskID, err)
	}
	for _, inst := range instances {
		concept, ok := inst.ConceptForTask(taskID)
		if !ok {
			continue
		}
		tmpl, err := e.templates.FindTemplate(ctx, inst.TemplateID)
		if err != nil {
			slog.Error("Failed to load template for task confirmation",
				"instance_id", string(inst.ID), "task_id", taskID, "error", err)
			continue
		}
		phase, ok := tmpl.PhaseForStep(concept.LinkedStep)
		if !ok {
			slog.Debug("Linked step no longer part of template",
				"instance_id", string(inst.ID), "step_id", string(concept.LinkedStep))
			continue
		}
		e.recordEvent(ctx, inst, models.EventActionStepConfirmed, map[string]string{
			"stepId": string(concept.LinkedStep),
			"taskId": taskID,
		})
		e.publisher.Publish(events.ActionStepConfirmed{
			Owner:      owner,
			InstanceID: inst.ID,
			PhaseID:    phase.ID,
			StepID:     concept.LinkedStep,
		})
	}
	return nil
}

// HandleActionStepConfirmed drops the concept linking the confirmed step to
// its task. Step completion itself is recorded by the completion handler
// subscribed to the same event.
func (e *Engine) HandleActionStepConfirmed(ctx context.Context, ev events.ActionStepConfirmed) error {
	inst, err := e.instances.FindInstance(ctx, ev.Owner, ev.InstanceID)
	if err != nil {
		return err
	}
	changed := false
	for _, concept := range inst.Concepts {
		if concept.LinkedStep == ev.StepID {
			inst = inst.WithoutConcept(concept.TaskID)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return e.instances.SaveInstance(ctx, inst)
}

// HandleTaskLinkBroken forgets the concept of a removed, uncompleted task
// and nudges the owner, so the step is not silently lost.
func (e *Engine) HandleTaskLinkBroken(ctx context.Context, ev events.TaskLinkBroken) error {
	inst, err := e.instances.FindInstance(ctx, ev.Owner, ev.InstanceID)
	if err != nil {
		return err
	}
	if _, ok := inst.ConceptForTask(ev.TaskID); !ok {
		return nil
	}
	inst = inst.WithoutConcept(ev.TaskID)
	if err := e.instances.SaveInstance(ctx, inst); err != nil {
		return err
	}
	text := "I noticed you removed a task from your routine without finishing it. That is fine, it will come around again."
	if ev.TaskTitle != "" {
		text = fmt.Sprintf("I noticed you removed %q without finishing it. That is fine, it will come around again.", ev.TaskTitle)
	}
	if err := e.messenger.SendMessage(ctx, ev.Owner, text); err != nil {
		slog.Error("Failed to send task-removed notice", "instance_id", string(inst.ID), "error", err)
	}
	return nil
}
