// Package recovery restores scheduler state after an application restart.
// Cron entries and one-shot timers live in memory only, so on startup every
// persisted routine instance is walked and its schedules are re-registered
// from the template.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neurospicy/routinekit/internal/models"
	"github.com/neurospicy/routinekit/internal/routine"
)

// Recoverer re-registers schedules for persisted routine instances.
type Recoverer struct {
	templates routine.TemplateStore
	instances routine.InstanceStore
	scheduler routine.Scheduler
}

// NewRecoverer wires the recoverer to the stores and scheduler.
func NewRecoverer(templates routine.TemplateStore, instances routine.InstanceStore, scheduler routine.Scheduler) *Recoverer {
	return &Recoverer{templates: templates, instances: instances, scheduler: scheduler}
}

// RecoverAll restores schedules for every persisted instance. A failure on
// one instance is logged and does not stop recovery of the others; the
// returned count is the number of instances recovered successfully.
func (r *Recoverer) RecoverAll(ctx context.Context) (int, error) {
	instances, err := r.instances.ListAllInstances(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list instances for recovery: %w", err)
	}

	recovered := 0
	for _, inst := range instances {
		if err := r.recoverInstance(ctx, inst); err != nil {
			slog.Error("Failed to recover instance schedules",
				"instance_id", string(inst.ID), "owner", string(inst.Owner), "error", err)
			continue
		}
		recovered++
	}
	slog.Info("Schedule recovery finished", "instances", len(instances), "recovered", recovered)
	return recovered, nil
}

// recoverInstance re-registers the instance's trigger schedules, the pending
// phase activations, and the current phase's step and recurrence schedules.
// Times that already passed are handled by the scheduler's usual rules, so a
// step missed during downtime rolls to its next occurrence instead of firing
// in a burst.
func (r *Recoverer) recoverInstance(ctx context.Context, inst models.RoutineInstance) error {
	tmpl, err := r.templates.FindTemplate(ctx, inst.TemplateID)
	if err != nil {
		return fmt.Errorf("template %s: %w", inst.TemplateID, err)
	}

	for _, trigger := range tmpl.Triggers {
		if !models.IsTimeBased(trigger.Condition) {
			continue
		}
		if err := r.scheduler.ScheduleTrigger(ctx, inst, trigger); err != nil {
			slog.Error("Failed to recover trigger schedule",
				"instance_id", string(inst.ID), "trigger_id", string(trigger.ID), "error", err)
		}
	}

	for _, phase := range tmpl.Phases {
		if inst.CurrentPhaseID != nil && *inst.CurrentPhaseID == phase.ID {
			continue
		}
		if phase.Condition == nil || !models.IsTimeBased(phase.Condition) {
			continue
		}
		if err := r.scheduler.SchedulePhaseActivation(ctx, inst, phase); err != nil {
			slog.Error("Failed to recover phase activation schedule",
				"instance_id", string(inst.ID), "phase_id", string(phase.ID), "error", err)
		}
	}

	if inst.CurrentPhaseID == nil {
		return nil
	}
	phase, ok := tmpl.FindPhase(*inst.CurrentPhaseID)
	if !ok {
		return fmt.Errorf("current phase %s not found in template %s", *inst.CurrentPhaseID, tmpl.ID)
	}

	if err := r.scheduler.SchedulePhaseIterations(ctx, inst, phase); err != nil {
		slog.Error("Failed to recover phase iteration schedule",
			"instance_id", string(inst.ID), "phase_id", string(phase.ID), "error", err)
	}

	progress, ok := inst.CurrentIteration()
	if !ok || progress.CompletedAt != nil {
		// No open iteration; the recurrence schedule opens the next one.
		return nil
	}
	for _, step := range phase.Steps {
		if progress.HasCompleted(step.StepID()) {
			continue
		}
		if err := r.scheduler.ScheduleStep(ctx, inst, step, phase.ID); err != nil {
			slog.Error("Failed to recover step schedule",
				"instance_id", string(inst.ID), "step_id", string(step.StepID()), "error", err)
		}
	}
	return nil
}
