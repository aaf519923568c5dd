package routine

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neurospicy/routinekit/internal/models"
)

func exprInstance(t *testing.T, params map[string]string) models.RoutineInstance {
	t.Helper()
	typed := make(map[string]models.TypedParameter, len(params))
	for k, v := range params {
		p, err := models.ParseTypedParameter(v, models.ParameterTypeLocalTime)
		if err != nil {
			t.Fatalf("fixture parameter %s=%q: %v", k, v, err)
		}
		typed[k] = p
	}
	return models.NewRoutineInstance("morning:1.0", models.OwnerID(uuid.NewString()), typed)
}

func TestResolveTimeExpressionClockTime(t *testing.T) {
	inst := exprInstance(t, nil)
	at, err := ResolveTimeExpression("07:30", inst, testNow, time.UTC)
	if err != nil {
		t.Fatalf("ResolveTimeExpression: %v", err)
	}
	want := time.Date(2026, 2, 2, 7, 30, 0, 0, time.UTC)
	if at == nil || !at.Equal(want) {
		t.Errorf("got %v, want %v", at, want)
	}
}

func TestResolveTimeExpressionNow(t *testing.T) {
	inst := exprInstance(t, nil)

	at, err := ResolveTimeExpression("NOW", inst, testNow, time.UTC)
	if err != nil || at == nil || !at.Equal(testNow) {
		t.Fatalf("NOW: got %v, %v", at, err)
	}

	at, err = ResolveTimeExpression("NOW-PT10M", inst, testNow, time.UTC)
	if err != nil || at == nil || !at.Equal(testNow.Add(-10*time.Minute)) {
		t.Fatalf("NOW-PT10M: got %v, %v", at, err)
	}
}

func TestResolveTimeExpressionParameterReference(t *testing.T) {
	inst := exprInstance(t, map[string]string{"wakeUpTime": "06:45"})

	at, err := ResolveTimeExpression("${wakeUpTime}", inst, testNow, time.UTC)
	if err != nil {
		t.Fatalf("ResolveTimeExpression: %v", err)
	}
	want := time.Date(2026, 2, 2, 6, 45, 0, 0, time.UTC)
	if at == nil || !at.Equal(want) {
		t.Errorf("got %v, want %v", at, want)
	}

	at, err = ResolveTimeExpression("${wakeUpTime}+PT30M", inst, testNow, time.UTC)
	if err != nil {
		t.Fatalf("ResolveTimeExpression with offset: %v", err)
	}
	if at == nil || !at.Equal(want.Add(30*time.Minute)) {
		t.Errorf("offset: got %v, want %v", at, want.Add(30*time.Minute))
	}
}

func TestResolveTimeExpressionUnsetParameter(t *testing.T) {
	inst := exprInstance(t, nil)
	at, err := ResolveTimeExpression("${wakeUpTime}", inst, testNow, time.UTC)
	if err != nil {
		t.Fatalf("unset parameter must not be an error: %v", err)
	}
	if at != nil {
		t.Errorf("unset parameter must resolve to nil, got %v", at)
	}
}

func TestResolveTimeExpressionAnchorFallsBackToNow(t *testing.T) {
	inst := exprInstance(t, nil)
	key := models.ParameterKeyForAnchor(models.AnchorPhaseEntered)
	at, err := ResolveTimeExpression("${"+key+"}+PT5M", inst, testNow, time.UTC)
	if err != nil {
		t.Fatalf("ResolveTimeExpression: %v", err)
	}
	if at == nil || !at.Equal(testNow.Add(5*time.Minute)) {
		t.Errorf("unstamped anchor should read as now: got %v", at)
	}
}

func TestResolveTimeExpressionMalformed(t *testing.T) {
	inst := exprInstance(t, map[string]string{"wakeUpTime": "06:45"})
	for _, expr := range []string{"", "${}", "${wakeUpTime", "${wakeUpTime}+banana", "NOW+"} {
		if _, err := ResolveTimeExpression(expr, inst, testNow, time.UTC); !errors.Is(err, ErrInvalidTimeExpression) {
			t.Errorf("%q: expected ErrInvalidTimeExpression, got %v", expr, err)
		}
	}
}

func TestResolveTimeOfDay(t *testing.T) {
	inst := exprInstance(t, map[string]string{"wakeUpTime": "06:45"})

	clock := models.TimeOfDay{Kind: models.TimeOfDayClock, Clock: models.ClockTime{Hour: 8, Minute: 15}}
	at, err := ResolveTimeOfDay(clock, inst, testNow, time.UTC)
	if err != nil || at == nil || !at.Equal(time.Date(2026, 2, 2, 8, 15, 0, 0, time.UTC)) {
		t.Errorf("clock: got %v, %v", at, err)
	}

	ref := models.TimeOfDay{Kind: models.TimeOfDayReference, Reference: "wakeUpTime"}
	at, err = ResolveTimeOfDay(ref, inst, testNow, time.UTC)
	if err != nil || at == nil || !at.Equal(time.Date(2026, 2, 2, 6, 45, 0, 0, time.UTC)) {
		t.Errorf("reference: got %v, %v", at, err)
	}

	expr := models.TimeOfDay{Kind: models.TimeOfDayExpression, Expression: "${wakeUpTime}+PT1H"}
	at, err = ResolveTimeOfDay(expr, inst, testNow, time.UTC)
	if err != nil || at == nil || !at.Equal(time.Date(2026, 2, 2, 7, 45, 0, 0, time.UTC)) {
		t.Errorf("expression: got %v, %v", at, err)
	}
}

func TestSubstituteVariables(t *testing.T) {
	inst := exprInstance(t, map[string]string{"wakeUpTime": "06:45"})
	inst = inst.WithParameter("name", models.StringParameter("Alex"))

	got := SubstituteVariables("Good morning, ${name}! Up since ${wakeUpTime}?", inst)
	want := "Good morning, Alex! Up since 06:45?"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	// Unset placeholders stay verbatim.
	got = SubstituteVariables("Hello ${stranger}", inst)
	if got != "Hello ${stranger}" {
		t.Errorf("got %q", got)
	}
}
