package routine

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/models"
)

// completableSteps lists the steps whose completion the iteration waits for.
// Fire-and-forget actions are excluded: they are sent but never recorded, so
// they must not block iteration completion either.
func completableSteps(phase models.RoutinePhase) []models.RoutineStep {
	steps := make([]models.RoutineStep, 0, len(phase.Steps))
	for _, s := range phase.Steps {
		if action, ok := s.(models.ActionStep); ok && !action.ExpectConfirmation {
			continue
		}
		steps = append(steps, s)
	}
	return steps
}

// HandleStepCompleted records a step completion in the open iteration and
// closes the iteration once every completable step is in. The write is
// idempotent; replays and completions arriving after a phase transition are
// dropped silently.
func (e *Engine) HandleStepCompleted(ctx context.Context, ev events.StepCompleted) error {
	inst, tmpl, err := e.load(ctx, ev.CompletedOwner(), ev.Key())
	if err != nil {
		return err
	}
	if inst.CurrentPhaseID == nil || *inst.CurrentPhaseID != ev.CompletedPhase() {
		slog.Debug("Dropping completion for inactive phase",
			"instance_id", string(ev.Key()), "phase_id", string(ev.CompletedPhase()), "step_id", string(ev.CompletedStep()))
		return nil
	}
	iteration, found := inst.CurrentIteration()
	if !found || iteration.PhaseID != ev.CompletedPhase() {
		slog.Debug("Dropping completion without matching iteration",
			"instance_id", string(ev.Key()), "phase_id", string(ev.CompletedPhase()))
		return nil
	}

	updated := inst.WithCompletedStep(ev.CompletedStep(), e.clock.Now())
	phase, ok := tmpl.FindPhase(ev.CompletedPhase())
	if !ok {
		return ErrTemplateNotFound
	}

	iteration, _ = updated.CurrentIteration()
	done := true
	for _, s := range completableSteps(phase) {
		if !iteration.HasCompleted(s.StepID()) {
			done = false
			break
		}
	}
	if done && iteration.CompletedAt == nil {
		updated = updated.WithCompletedIteration(e.clock.Now())
	}
	if err := e.instances.SaveInstance(ctx, updated); err != nil {
		return err
	}
	if done && iteration.CompletedAt == nil {
		e.recordEvent(ctx, updated, models.EventPhaseCompleted, map[string]string{
			"phaseId":     string(phase.ID),
			"completions": strconv.Itoa(updated.CompletedIterations(phase.ID)),
		})
		e.publisher.Publish(events.PhaseIterationCompleted{
			Owner:      updated.Owner,
			InstanceID: updated.ID,
			PhaseID:    phase.ID,
		})
		slog.Debug("Phase iteration completed", "instance_id", string(updated.ID), "phase_id", string(phase.ID))
	}
	return nil
}
