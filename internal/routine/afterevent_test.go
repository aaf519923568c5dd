package routine

import (
	"context"
	"testing"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/models"
)

// Phase narrowing compares against ids derived from the phase title, so the
// fixture uses the derived ids throughout.
var (
	gettingUpPhaseID = models.PhaseIDFor("Getting up")
	settledPhaseID   = models.PhaseIDFor("Settled")
)

// anchorTemplate hangs a trigger and a follow-up phase off lifecycle anchors.
func anchorTemplate() models.RoutineTemplate {
	return models.RoutineTemplate{
		ID:          "anchored:1.0",
		Title:       "Anchored routine",
		Version:     "1.0",
		Description: "Schedules relative to lifecycle events",
		Phases: []models.RoutinePhase{
			{
				ID:    gettingUpPhaseID,
				Title: "Getting up",
				Steps: []models.RoutineStep{
					models.MessageStep{ID: "greet", Message: "Morning!"},
				},
				Schedule: models.ScheduleDaily,
			},
			{
				ID:    settledPhaseID,
				Title: "Settled",
				Condition: models.AfterEvent{
					Event:          models.AnchorPhaseEntered,
					PhaseTitle:     "Getting up",
					TimeExpression: "${PHASE_ENTERED}+PT1H",
				},
				Steps: []models.RoutineStep{
					models.MessageStep{ID: "plan", Message: "Plan the day"},
				},
				Schedule: models.ScheduleDaily,
			},
		},
		Triggers: []models.RoutineTrigger{
			{
				ID: "start-checkin",
				Condition: models.AfterEvent{
					Event:          models.AnchorRoutineStarted,
					TimeExpression: "${ROUTINE_START}+PT10M",
				},
				Effect: models.SendMessageEffect{Message: "How is it going?"},
			},
			{
				ID: "leave-note",
				Condition: models.AfterEvent{
					Event:          models.AnchorPhaseEntered,
					PhaseTitle:     "Settled",
					TimeExpression: "${PHASE_ENTERED}+PT5M",
				},
				Effect: models.SendMessageEffect{Message: "Welcome to the next phase"},
			},
		},
	}
}

func TestRoutineStartedAnchorStampsAndSchedules(t *testing.T) {
	h := newTestHarness(testNow)
	inst := models.NewRoutineInstance("anchored:1.0", "owner-1", nil)
	h.mustSave(anchorTemplate(), inst)

	err := h.engine.HandleRoutineStartedAnchor(context.Background(), events.RoutineStarted{
		Owner: "owner-1", InstanceID: inst.ID,
	})
	if err != nil {
		t.Fatalf("HandleRoutineStartedAnchor: %v", err)
	}

	saved, _ := h.store.FindInstance(context.Background(), "owner-1", inst.ID)
	key := models.ParameterKeyForAnchor(models.AnchorRoutineStarted)
	p, ok := saved.Parameter(key)
	if !ok || p.Type != models.ParameterTypeInstant {
		t.Fatalf("start anchor not stamped: %+v", p)
	}

	if got := h.scheduler.scheduledTriggers; len(got) != 1 || got[0] != "start-checkin" {
		t.Errorf("expected only the start-anchored trigger scheduled, got %v", got)
	}
	if len(h.scheduler.scheduledPhases) != 0 {
		t.Errorf("no phase waits on the start anchor, got %v", h.scheduler.scheduledPhases)
	}
}

func TestPhaseEnteredAnchorHonorsPhaseTitle(t *testing.T) {
	h := newTestHarness(testNow)
	inst := models.NewRoutineInstance("anchored:1.0", "owner-1", nil).
		WithCurrentPhase(gettingUpPhaseID, testNow)
	h.mustSave(anchorTemplate(), inst)

	err := h.engine.HandlePhaseEnteredAnchor(context.Background(), events.PhaseActivated{
		Owner: "owner-1", InstanceID: inst.ID, PhaseID: gettingUpPhaseID,
	})
	if err != nil {
		t.Fatalf("HandlePhaseEnteredAnchor: %v", err)
	}

	// The "leave-note" trigger is narrowed to the Settled phase and must not
	// react to entering Getting up.
	if got := h.scheduler.scheduledTriggers; len(got) != 0 {
		t.Errorf("no trigger should fire for this phase, got %v", got)
	}
	if got := h.scheduler.scheduledPhases; len(got) != 1 || got[0] != settledPhaseID {
		t.Errorf("expected the follow-up phase activation scheduled, got %v", got)
	}

	saved, _ := h.store.FindInstance(context.Background(), "owner-1", inst.ID)
	if !saved.HasParameter(models.ParameterKeyForAnchor(models.AnchorPhaseEntered)) {
		t.Error("phase-entered anchor not stamped")
	}
}

func TestPhaseEnteredAnchorSkipsCurrentPhase(t *testing.T) {
	h := newTestHarness(testNow)
	inst := models.NewRoutineInstance("anchored:1.0", "owner-1", nil).
		WithCurrentPhase(settledPhaseID, testNow)
	h.mustSave(anchorTemplate(), inst)

	err := h.engine.HandlePhaseEnteredAnchor(context.Background(), events.PhaseActivated{
		Owner: "owner-1", InstanceID: inst.ID, PhaseID: settledPhaseID,
	})
	if err != nil {
		t.Fatalf("HandlePhaseEnteredAnchor: %v", err)
	}

	if got := h.scheduler.scheduledTriggers; len(got) != 1 || got[0] != "leave-note" {
		t.Errorf("expected the settled-phase trigger scheduled, got %v", got)
	}
	// "settled" is already current; its activation must not be rescheduled.
	if len(h.scheduler.scheduledPhases) != 0 {
		t.Errorf("current phase must not be rescheduled, got %v", h.scheduler.scheduledPhases)
	}
}
