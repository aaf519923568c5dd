package routine

import (
	"context"
	"log/slog"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/models"
)

// HandleRoutineStarted arranges everything a fresh routine needs: activation
// schedules for time-gated phases, schedules for time-based triggers, and the
// immediate activation of phases whose condition is absent or already
// satisfied by the setup parameters. When several phases qualify, each
// activation supersedes the previous one, so the last qualifying phase in
// template order ends up current.
func (e *Engine) HandleRoutineStarted(ctx context.Context, ev events.RoutineStarted) error {
	inst, tmpl, err := e.load(ctx, ev.Owner, ev.InstanceID)
	if err != nil {
		return err
	}

	for _, phase := range tmpl.Phases {
		if phase.Condition == nil || !models.IsTimeBased(phase.Condition) {
			continue
		}
		if err := e.scheduler.SchedulePhaseActivation(ctx, inst, phase); err != nil {
			slog.Error("Failed to schedule phase activation",
				"instance_id", string(inst.ID), "phase_id", string(phase.ID), "error", err)
		}
	}
	for _, trigger := range tmpl.Triggers {
		if !models.IsTimeBased(trigger.Condition) {
			continue
		}
		if err := e.scheduler.ScheduleTrigger(ctx, inst, trigger); err != nil {
			slog.Error("Failed to schedule trigger",
				"instance_id", string(inst.ID), "trigger_id", string(trigger.ID), "error", err)
		}
	}

	if inst.CurrentPhaseID != nil {
		return nil
	}
	activated := false
	for _, phase := range tmpl.Phases {
		if !satisfiedAtStart(inst, phase) {
			continue
		}
		if err := e.TransitionTo(ctx, inst, tmpl, phase); err != nil {
			return err
		}
		inst, err = e.instances.FindInstance(ctx, ev.Owner, ev.InstanceID)
		if err != nil {
			return err
		}
		activated = true
	}
	if !activated {
		slog.Debug("No phase eligible for activation at start", "instance_id", string(inst.ID))
	}
	return nil
}

// satisfiedAtStart reports whether the phase should be active right away when
// the routine starts: no condition at all, a parameter gate already met by the
// setup answers, or a completion-count gate already met by history.
func satisfiedAtStart(inst models.RoutineInstance, phase models.RoutinePhase) bool {
	switch c := phase.Condition.(type) {
	case nil:
		return true
	case models.AfterParameterSet:
		return inst.HasParameter(c.ParameterKey)
	case models.AfterPhaseCompletions:
		return inst.CompletedIterations(c.PhaseID) >= c.Times
	default:
		return false
	}
}

// HandlePhaseIterationDue opens the next iteration when the phase's
// recurrence fires. A recurrence entry that outlived a phase transition is
// ignored.
func (e *Engine) HandlePhaseIterationDue(ctx context.Context, ev events.PhaseIterationDue) error {
	inst, tmpl, err := e.load(ctx, ev.Owner, ev.InstanceID)
	if err != nil {
		return err
	}
	if inst.CurrentPhaseID == nil || *inst.CurrentPhaseID != ev.PhaseID {
		slog.Debug("Skipping iteration of inactive phase",
			"instance_id", string(inst.ID), "phase_id", string(ev.PhaseID))
		return nil
	}
	phase, ok := tmpl.FindPhase(ev.PhaseID)
	if !ok {
		return ErrTemplateNotFound
	}

	inst = inst.WithNewIteration(phase.ID, e.clock.Now())
	if err := e.instances.SaveInstance(ctx, inst); err != nil {
		return err
	}
	e.scheduleSteps(ctx, inst, phase)

	e.recordEvent(ctx, inst, models.EventPhaseIterationStarted, map[string]string{"phaseId": string(phase.ID)})
	e.publisher.Publish(events.PhaseIterationStarted{
		Owner:      inst.Owner,
		InstanceID: inst.ID,
		PhaseID:    phase.ID,
	})
	return nil
}

// HandleStopRoutineForToday cancels the remaining step timers of today's
// iteration without touching the recurrence schedule, so the routine picks
// up again on its next iteration.
func (e *Engine) HandleStopRoutineForToday(ctx context.Context, ev events.StopRoutineForToday) error {
	inst, tmpl, err := e.load(ctx, ev.Owner, ev.InstanceID)
	if err != nil {
		return err
	}
	if inst.CurrentPhaseID == nil {
		slog.Debug("Stop-for-today without active phase", "instance_id", string(inst.ID))
		return nil
	}
	phase, ok := tmpl.FindPhase(*inst.CurrentPhaseID)
	if !ok {
		return ErrTemplateNotFound
	}

	iteration, hasIteration := inst.CurrentIteration()
	for _, step := range phase.Steps {
		if hasIteration && iteration.PhaseID == phase.ID && iteration.HasCompleted(step.StepID()) {
			continue
		}
		if err := e.scheduler.RemoveStepSchedule(ctx, inst.Owner, inst.ID, phase.ID, step.StepID()); err != nil {
			slog.Error("Failed to remove step schedule",
				"instance_id", string(inst.ID), "step_id", string(step.StepID()), "error", err)
		}
	}

	if err := e.messenger.SendMessage(ctx, inst.Owner, "Alright, no more of this routine today. We pick it up again next time."); err != nil {
		slog.Error("Failed to confirm stop-for-today", "instance_id", string(inst.ID), "error", err)
	}

	e.recordEvent(ctx, inst, models.EventRoutineStoppedForToday, map[string]string{
		"phaseId": string(phase.ID),
		"reason":  ev.Reason,
	})
	e.publisher.Publish(events.StoppedTodaysRoutine{Owner: inst.Owner, InstanceID: inst.ID})
	return nil
}
