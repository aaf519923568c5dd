package routine

import (
	"context"
	"testing"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/models"
)

// twoPhaseTemplate has a start phase and a follow-up phase gated on two
// completions of the start phase.
func twoPhaseTemplate() models.RoutineTemplate {
	return models.RoutineTemplate{
		ID:          "habit:1.0",
		Title:       "Habit builder",
		Version:     "1.0",
		Description: "Grow a habit in stages",
		Phases: []models.RoutinePhase{
			{
				ID:    "starter",
				Title: "Starter",
				Steps: []models.RoutineStep{
					models.MessageStep{ID: "nudge", Message: "Time for your habit"},
				},
				Schedule: models.ScheduleDaily,
			},
			{
				ID:        "advanced",
				Title:     "Advanced",
				Condition: models.AfterPhaseCompletions{PhaseID: "starter", Times: 2},
				Steps: []models.RoutineStep{
					models.MessageStep{ID: "nudge-more", Message: "Level up your habit"},
				},
				Schedule: models.ScheduleDaily,
			},
		},
	}
}

func TestTransitionDeactivatesBeforeActivating(t *testing.T) {
	h := newTestHarness(testNow)
	tmpl := twoPhaseTemplate()
	inst := models.NewRoutineInstance(tmpl.ID, "owner-1", nil).WithCurrentPhase("starter", testNow)
	h.mustSave(tmpl, inst)

	advanced, _ := tmpl.FindPhase("advanced")
	if err := h.engine.TransitionTo(context.Background(), inst, tmpl, advanced); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}

	names := h.publisher.names()
	if len(names) != 2 || names[0] != "routine.phase.deactivated" || names[1] != "routine.phase.activated" {
		t.Fatalf("expected deactivate then activate, got %v", names)
	}

	saved, _ := h.store.FindInstance(context.Background(), inst.Owner, inst.ID)
	if saved.CurrentPhaseID == nil || *saved.CurrentPhaseID != "advanced" {
		t.Errorf("expected advanced phase current, got %v", saved.CurrentPhaseID)
	}

	// The old phase's schedules must be gone, the new phase's set up.
	if len(h.scheduler.removedIterations) != 1 || h.scheduler.removedIterations[0] != "starter" {
		t.Errorf("starter recurrence not removed: %v", h.scheduler.removedIterations)
	}
	if len(h.scheduler.scheduledIteration) != 1 || h.scheduler.scheduledIteration[0] != "advanced" {
		t.Errorf("advanced recurrence not scheduled: %v", h.scheduler.scheduledIteration)
	}
}

func TestTransitionToCurrentPhaseIsNoOp(t *testing.T) {
	h := newTestHarness(testNow)
	tmpl := twoPhaseTemplate()
	inst := models.NewRoutineInstance(tmpl.ID, "owner-1", nil).WithCurrentPhase("starter", testNow)
	h.mustSave(tmpl, inst)

	starter, _ := tmpl.FindPhase("starter")
	if err := h.engine.TransitionTo(context.Background(), inst, tmpl, starter); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	if len(h.publisher.published()) != 0 {
		t.Errorf("re-activating the current phase must be a no-op, got %v", h.publisher.names())
	}
}

func TestAfterPhaseCompletionsFiresAtThreshold(t *testing.T) {
	h := newTestHarness(testNow)
	tmpl := twoPhaseTemplate()
	inst := models.NewRoutineInstance(tmpl.ID, "owner-1", nil).
		WithCurrentPhase("starter", testNow).
		WithCompletedIteration(testNow)
	h.mustSave(tmpl, inst)

	// One completion: condition wants two, nothing happens.
	err := h.engine.HandlePhaseIterationCompleted(context.Background(), events.PhaseIterationCompleted{
		Owner: inst.Owner, InstanceID: inst.ID, PhaseID: "starter",
	})
	if err != nil {
		t.Fatalf("HandlePhaseIterationCompleted: %v", err)
	}
	if len(h.publisher.published()) != 0 {
		t.Fatalf("condition must not fire below its count, got %v", h.publisher.names())
	}

	// Second completion: the condition fires and the phase transitions.
	inst, _ = h.store.FindInstance(context.Background(), inst.Owner, inst.ID)
	inst = inst.WithNewIteration("starter", testNow).WithCompletedIteration(testNow)
	_ = h.store.SaveInstance(context.Background(), inst)

	err = h.engine.HandlePhaseIterationCompleted(context.Background(), events.PhaseIterationCompleted{
		Owner: inst.Owner, InstanceID: inst.ID, PhaseID: "starter",
	})
	if err != nil {
		t.Fatalf("HandlePhaseIterationCompleted: %v", err)
	}

	saved, _ := h.store.FindInstance(context.Background(), inst.Owner, inst.ID)
	if saved.CurrentPhaseID == nil || *saved.CurrentPhaseID != "advanced" {
		t.Fatalf("expected transition to advanced, got %v", saved.CurrentPhaseID)
	}

	// A replayed completion while advanced is already current is a no-op.
	before := len(h.publisher.published())
	err = h.engine.HandlePhaseIterationCompleted(context.Background(), events.PhaseIterationCompleted{
		Owner: inst.Owner, InstanceID: inst.ID, PhaseID: "starter",
	})
	if err != nil {
		t.Fatalf("HandlePhaseIterationCompleted replay: %v", err)
	}
	if len(h.publisher.published()) != before {
		t.Errorf("replay while the target phase is current must not re-fire, got %v", h.publisher.names())
	}
}

func TestAfterPhaseCompletionsFiresWhenCountJumpsPastThreshold(t *testing.T) {
	h := newTestHarness(testNow)
	tmpl := twoPhaseTemplate()
	// Three completions are on record but the event for the second one was
	// never delivered; the next completion event must still open the gate.
	inst := models.NewRoutineInstance(tmpl.ID, "owner-1", nil).WithCurrentPhase("starter", testNow)
	for i := 0; i < 3; i++ {
		inst = inst.WithCompletedIteration(testNow).WithNewIteration("starter", testNow)
	}
	h.mustSave(tmpl, inst)

	err := h.engine.HandlePhaseIterationCompleted(context.Background(), events.PhaseIterationCompleted{
		Owner: inst.Owner, InstanceID: inst.ID, PhaseID: "starter",
	})
	if err != nil {
		t.Fatalf("HandlePhaseIterationCompleted: %v", err)
	}
	saved, _ := h.store.FindInstance(context.Background(), inst.Owner, inst.ID)
	if saved.CurrentPhaseID == nil || *saved.CurrentPhaseID != "advanced" {
		t.Errorf("expected transition to advanced past the threshold, got %v", saved.CurrentPhaseID)
	}
}

func TestAfterPhaseCompletionsTriggerEffect(t *testing.T) {
	h := newTestHarness(testNow)
	tmpl := twoPhaseTemplate()
	tmpl.Phases = tmpl.Phases[:1]
	tmpl.Triggers = []models.RoutineTrigger{
		{
			ID:        "praise",
			Condition: models.AfterPhaseCompletions{PhaseID: "starter", Times: 1},
			Effect:    models.SendMessageEffect{Message: "First one done, well done!"},
		},
	}
	inst := models.NewRoutineInstance(tmpl.ID, "owner-1", nil).
		WithCurrentPhase("starter", testNow).
		WithCompletedIteration(testNow)
	h.mustSave(tmpl, inst)

	err := h.engine.HandlePhaseIterationCompleted(context.Background(), events.PhaseIterationCompleted{
		Owner: inst.Owner, InstanceID: inst.ID, PhaseID: "starter",
	})
	if err != nil {
		t.Fatalf("HandlePhaseIterationCompleted: %v", err)
	}
	sent := h.messenger.sent()
	if len(sent) != 1 || sent[0] != "First one done, well done!" {
		t.Errorf("expected praise message, got %v", sent)
	}

	saved, _ := h.store.FindInstance(context.Background(), inst.Owner, inst.ID)
	if !saved.HasFiredTrigger("praise") {
		t.Errorf("expected the trigger firing to be recorded on the instance")
	}

	// A second completion pushes the count past the threshold, but the
	// recorded firing keeps the effect from running again.
	saved = saved.WithNewIteration("starter", testNow).WithCompletedIteration(testNow)
	_ = h.store.SaveInstance(context.Background(), saved)
	err = h.engine.HandlePhaseIterationCompleted(context.Background(), events.PhaseIterationCompleted{
		Owner: inst.Owner, InstanceID: inst.ID, PhaseID: "starter",
	})
	if err != nil {
		t.Fatalf("HandlePhaseIterationCompleted: %v", err)
	}
	if got := h.messenger.sent(); len(got) != 1 {
		t.Errorf("trigger effect must run once, got %v", got)
	}
}

func TestHandlePhaseDueActivatesPendingPhase(t *testing.T) {
	h := newTestHarness(testNow)
	tmpl := twoPhaseTemplate()
	inst := models.NewRoutineInstance(tmpl.ID, "owner-1", nil).WithCurrentPhase("starter", testNow)
	h.mustSave(tmpl, inst)

	err := h.engine.HandlePhaseDue(context.Background(), events.PhaseDue{
		Owner: inst.Owner, InstanceID: inst.ID, PhaseID: "advanced",
	})
	if err != nil {
		t.Fatalf("HandlePhaseDue: %v", err)
	}
	saved, _ := h.store.FindInstance(context.Background(), inst.Owner, inst.ID)
	if saved.CurrentPhaseID == nil || *saved.CurrentPhaseID != "advanced" {
		t.Errorf("expected advanced current, got %v", saved.CurrentPhaseID)
	}

	// A replay for the now-current phase is a no-op.
	before := len(h.publisher.published())
	err = h.engine.HandlePhaseDue(context.Background(), events.PhaseDue{
		Owner: inst.Owner, InstanceID: inst.ID, PhaseID: "advanced",
	})
	if err != nil {
		t.Fatalf("HandlePhaseDue replay: %v", err)
	}
	if len(h.publisher.published()) != before {
		t.Error("replayed phase-due must not publish again")
	}
}
