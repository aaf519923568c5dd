package routine

import (
	"context"
	"testing"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/models"
)

func TestRoutineStartedActivatesFirstUnconditionalPhase(t *testing.T) {
	h := newTestHarness(testNow)
	tmpl := twoPhaseTemplate()
	tmpl.Triggers = []models.RoutineTrigger{
		{
			ID:        "check-in",
			Condition: models.AfterDays{Days: 3},
			Effect:    models.SendMessageEffect{Message: "How is it going?"},
		},
		{
			ID:        "on-ask",
			Condition: models.AfterParameterSet{ParameterKey: "goal"},
			Effect:    models.SendMessageEffect{Message: "Goal noted."},
		},
	}
	inst := models.NewRoutineInstance(tmpl.ID, "owner-1", nil)
	h.mustSave(tmpl, inst)

	err := h.engine.HandleRoutineStarted(context.Background(), events.RoutineStarted{
		Owner: inst.Owner, InstanceID: inst.ID,
	})
	if err != nil {
		t.Fatalf("HandleRoutineStarted: %v", err)
	}

	saved, _ := h.store.FindInstance(context.Background(), inst.Owner, inst.ID)
	if saved.CurrentPhaseID == nil || *saved.CurrentPhaseID != "starter" {
		t.Fatalf("expected starter phase active, got %v", saved.CurrentPhaseID)
	}
	if it, ok := saved.CurrentIteration(); !ok || it.PhaseID != "starter" {
		t.Error("activation should open the first iteration")
	}

	// Only the time-based trigger gets a schedule; the parameter-gated one
	// waits for its parameter.
	if len(h.scheduler.scheduledTriggers) != 1 || h.scheduler.scheduledTriggers[0] != "check-in" {
		t.Errorf("unexpected trigger schedules: %v", h.scheduler.scheduledTriggers)
	}
	// The advanced phase is completion-gated, not time-based, so no
	// activation schedule either.
	if len(h.scheduler.scheduledPhases) != 0 {
		t.Errorf("unexpected phase activation schedules: %v", h.scheduler.scheduledPhases)
	}
}

func TestRoutineStartedActivatesParameterSatisfiedPhase(t *testing.T) {
	h := newTestHarness(testNow)
	tmpl := models.RoutineTemplate{
		ID:          "sleep:1.0",
		Title:       "Sleep well",
		Version:     "1.0",
		Description: "Wind down in the evening",
		Phases: []models.RoutinePhase{
			{
				ID:        "wind-down",
				Title:     "Wind down",
				Condition: models.AfterParameterSet{ParameterKey: "bedTime"},
				Steps: []models.RoutineStep{
					models.MessageStep{ID: "dim", Message: "Dim the lights"},
				},
				Schedule: models.ScheduleDaily,
			},
		},
	}
	// bedTime was answered during setup, so the gate is already open.
	inst := models.NewRoutineInstance(tmpl.ID, "owner-1", map[string]models.TypedParameter{
		"bedTime": {Type: models.ParameterTypeLocalTime, Value: "22:00"},
	})
	h.mustSave(tmpl, inst)

	err := h.engine.HandleRoutineStarted(context.Background(), events.RoutineStarted{
		Owner: inst.Owner, InstanceID: inst.ID,
	})
	if err != nil {
		t.Fatalf("HandleRoutineStarted: %v", err)
	}

	saved, _ := h.store.FindInstance(context.Background(), inst.Owner, inst.ID)
	if saved.CurrentPhaseID == nil || *saved.CurrentPhaseID != "wind-down" {
		t.Fatalf("expected wind-down active at start, got %v", saved.CurrentPhaseID)
	}
	// A satisfied gate activates directly; nothing to schedule for later.
	if len(h.scheduler.scheduledPhases) != 0 {
		t.Errorf("unexpected phase activation schedules: %v", h.scheduler.scheduledPhases)
	}
}

func TestRoutineStartedActivatesEachQualifyingPhaseInOrder(t *testing.T) {
	h := newTestHarness(testNow)
	tmpl := models.RoutineTemplate{
		ID:          "double:1.0",
		Title:       "Double start",
		Version:     "1.0",
		Description: "Two phases eligible at start",
		Phases: []models.RoutinePhase{
			{
				ID:    "early",
				Title: "Early",
				Steps: []models.RoutineStep{
					models.MessageStep{ID: "first", Message: "First things first"},
				},
				Schedule: models.ScheduleDaily,
			},
			{
				ID:    "late",
				Title: "Late",
				Steps: []models.RoutineStep{
					models.MessageStep{ID: "second", Message: "And then this"},
				},
				Schedule: models.ScheduleDaily,
			},
		},
	}
	inst := models.NewRoutineInstance(tmpl.ID, "owner-1", nil)
	h.mustSave(tmpl, inst)

	err := h.engine.HandleRoutineStarted(context.Background(), events.RoutineStarted{
		Owner: inst.Owner, InstanceID: inst.ID,
	})
	if err != nil {
		t.Fatalf("HandleRoutineStarted: %v", err)
	}

	// Both phases activate in template order; the later activation supersedes
	// the earlier via the usual deactivate-then-activate path.
	names := h.publisher.names()
	want := []string{"routine.phase.activated", "routine.phase.deactivated", "routine.phase.activated"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
	saved, _ := h.store.FindInstance(context.Background(), inst.Owner, inst.ID)
	if saved.CurrentPhaseID == nil || *saved.CurrentPhaseID != "late" {
		t.Errorf("expected late phase current, got %v", saved.CurrentPhaseID)
	}
}

func TestPhaseIterationDueOpensNextIteration(t *testing.T) {
	h := newTestHarness(testNow)
	tmpl := morningTemplate()
	inst := startedInstance(tmpl, testNow).WithCompletedIteration(testNow)
	h.mustSave(tmpl, inst)

	err := h.engine.HandlePhaseIterationDue(context.Background(), events.PhaseIterationDue{
		Owner: inst.Owner, InstanceID: inst.ID, PhaseID: "wake-up",
	})
	if err != nil {
		t.Fatalf("HandlePhaseIterationDue: %v", err)
	}

	saved, _ := h.store.FindInstance(context.Background(), inst.Owner, inst.ID)
	it, _ := saved.CurrentIteration()
	if it.CompletedAt != nil || len(it.CompletedSteps) != 0 {
		t.Errorf("expected a fresh iteration, got %+v", it)
	}
	if len(h.scheduler.scheduledSteps) != 3 {
		t.Errorf("expected all 3 steps scheduled, got %v", h.scheduler.scheduledSteps)
	}

	names := h.publisher.names()
	if len(names) != 1 || names[0] != "routine.phase.iteration.started" {
		t.Errorf("expected iteration-started event, got %v", names)
	}
}

func TestPhaseIterationDueIgnoredForInactivePhase(t *testing.T) {
	h := newTestHarness(testNow)
	tmpl := morningTemplate()
	inst := startedInstance(tmpl, testNow)
	h.mustSave(tmpl, inst)

	err := h.engine.HandlePhaseIterationDue(context.Background(), events.PhaseIterationDue{
		Owner: inst.Owner, InstanceID: inst.ID, PhaseID: "evening",
	})
	if err != nil {
		t.Fatalf("HandlePhaseIterationDue: %v", err)
	}
	if len(h.scheduler.scheduledSteps) != 0 || len(h.publisher.published()) != 0 {
		t.Error("stale recurrence must be ignored")
	}
}

func TestStopRoutineForTodayCancelsRemainingSteps(t *testing.T) {
	h := newTestHarness(testNow)
	tmpl := morningTemplate()
	// The 07:00 greeting already ran; the 07:30 stretch is still pending.
	inst := startedInstance(tmpl, testNow).WithCompletedStep("greet", testNow)
	h.mustSave(tmpl, inst)

	err := h.engine.HandleStopRoutineForToday(context.Background(), events.StopRoutineForToday{
		Owner: inst.Owner, InstanceID: inst.ID, Reason: "exhausted",
	})
	if err != nil {
		t.Fatalf("HandleStopRoutineForToday: %v", err)
	}

	// Only the steps still pending lose their timers; the completed greeting
	// holds none.
	if len(h.scheduler.removedSteps) != 2 {
		t.Errorf("expected the two pending step schedules removed, got %v", h.scheduler.removedSteps)
	}
	for _, id := range h.scheduler.removedSteps {
		if id == "greet" {
			t.Error("completed step needs no cancellation")
		}
	}
	// The recurrence stays so tomorrow's iteration still opens.
	if len(h.scheduler.removedIterations) != 0 {
		t.Errorf("recurrence must survive a stop-for-today, got %v", h.scheduler.removedIterations)
	}
	if len(h.messenger.sent()) != 1 {
		t.Errorf("expected a confirmation message, got %v", h.messenger.sent())
	}

	names := h.publisher.names()
	if len(names) != 1 || names[0] != "routine.stopped-today" {
		t.Errorf("expected stopped-today event, got %v", names)
	}

	types := h.store.eventTypes(inst.ID)
	found := false
	for _, et := range types {
		if et == models.EventRoutineStoppedForToday {
			found = true
		}
	}
	if !found {
		t.Errorf("stop-for-today not recorded in the event log: %v", types)
	}
}
