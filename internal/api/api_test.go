package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/messaging"
	"github.com/neurospicy/routinekit/internal/models"
	"github.com/neurospicy/routinekit/internal/routine"
	"github.com/neurospicy/routinekit/internal/store"
	"github.com/neurospicy/routinekit/internal/testutil"
)

type noopScheduler struct{}

func (noopScheduler) ScheduleTrigger(ctx context.Context, inst models.RoutineInstance, trigger models.RoutineTrigger) error {
	return nil
}

func (noopScheduler) ScheduleStep(ctx context.Context, inst models.RoutineInstance, step models.RoutineStep, phaseID models.PhaseID) error {
	return nil
}

func (noopScheduler) SchedulePhaseActivation(ctx context.Context, inst models.RoutineInstance, phase models.RoutinePhase) error {
	return nil
}

func (noopScheduler) SchedulePhaseIterations(ctx context.Context, inst models.RoutineInstance, phase models.RoutinePhase) error {
	return nil
}

func (noopScheduler) RemoveStepSchedule(ctx context.Context, owner models.OwnerID, instanceID models.InstanceID, phaseID models.PhaseID, stepID models.StepID) error {
	return nil
}

func (noopScheduler) RemovePhaseIterationSchedule(ctx context.Context, owner models.OwnerID, instanceID models.InstanceID, phaseID models.PhaseID) error {
	return nil
}

func (noopScheduler) RemovePhaseActivationSchedule(ctx context.Context, owner models.OwnerID, instanceID models.InstanceID, phaseID models.PhaseID) error {
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) all() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event{}, p.events...)
}

func apiTemplate() models.RoutineTemplate {
	return models.RoutineTemplate{
		ID:          "morning:1.0",
		Title:       "Morning routine",
		Version:     "1.0",
		Description: "Start the day",
		SetupSteps: []models.RoutineStep{
			models.ParameterRequestStep{
				ID: "ask-wake", Question: "When do you wake up?",
				ParameterKey: "wakeUpTime", ParameterType: models.ParameterTypeLocalTime,
			},
		},
		Phases: []models.RoutinePhase{
			{
				ID:    "wake-up",
				Title: "Wake up",
				Steps: []models.RoutineStep{
					models.MessageStep{ID: "greet", Message: "Good morning!"},
				},
				Schedule: models.ScheduleDaily,
			},
		},
	}
}

func newTestServer(t *testing.T) (*Server, *store.InMemoryStore, *recordingPublisher) {
	t.Helper()
	st := store.NewInMemoryStore()
	pub := &recordingPublisher{}
	engine := routine.NewEngine(st, st, st, st, st,
		messaging.NewLogService(), noopScheduler{}, pub,
		routine.WithLocation(time.UTC))
	if err := st.SaveTemplate(context.Background(), apiTemplate()); err != nil {
		t.Fatal(err)
	}
	return NewServer(engine, st, st, st, st, pub), st, pub
}

func TestSetupEndpoint(t *testing.T) {
	srv, st, _ := newTestServer(t)
	handler := srv.Handler()

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/routines/setup", map[string]any{
		"owner":      "owner-1",
		"templateId": "morning:1.0",
		"parameters": map[string]string{"wakeUpTime": "07:00"},
	})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "setup")
	testutil.AssertJSONResponse(t, rr, "ok")

	instances, _ := st.ListInstancesByOwner(context.Background(), "owner-1")
	if len(instances) != 1 {
		t.Fatalf("expected the instance persisted, got %v", instances)
	}
}

func TestSetupEndpointValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	// Unknown templates are a 404.
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/routines/setup", map[string]any{
		"owner": "owner-1", "templateId": "missing:1.0",
	})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown template")

	// Required fields.
	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/routines/setup", map[string]any{
		"owner": "owner-1",
	})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing templateId")

	// Wrong method.
	req = testutil.CreateHTTPRequest(t, http.MethodGet, "/routines/setup", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "GET setup")
}

func TestAnswerEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	// No pending question yet.
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/routines/answer", map[string]any{
		"owner": "owner-1", "text": "07:00",
	})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "answer without question")

	// Set up without the answer so a question is parked.
	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/routines/setup", map[string]any{
		"owner": "owner-1", "templateId": "morning:1.0",
	})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "setup without answers")

	// An unparseable answer is rejected.
	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/routines/answer", map[string]any{
		"owner": "owner-1", "text": "whenever",
	})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusUnprocessableEntity, rr.Code, "bad answer")

	// A good answer binds.
	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/routines/answer", map[string]any{
		"owner": "owner-1", "text": "07:00",
	})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "good answer")
	testutil.AssertJSONResponse(t, rr, "ok")
}

func TestStopTodayEndpoint(t *testing.T) {
	srv, _, pub := newTestServer(t)
	handler := srv.Handler()

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/routines/stop-today", map[string]any{
		"owner": "owner-1", "instanceId": "inst-1", "reason": "sick day",
	})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusAccepted, rr.Code, "stop-today")

	got := pub.all()
	if len(got) != 1 {
		t.Fatalf("expected one published event, got %v", got)
	}
	stop, ok := got[0].(events.StopRoutineForToday)
	if !ok || stop.InstanceID != "inst-1" || stop.Reason != "sick day" {
		t.Errorf("unexpected event: %+v", got[0])
	}
}

func TestListEndpoints(t *testing.T) {
	srv, st, _ := newTestServer(t)
	handler := srv.Handler()

	inst := models.NewRoutineInstance("morning:1.0", "owner-1", nil)
	_ = st.SaveInstance(context.Background(), inst)
	_ = st.AppendEvent(context.Background(), models.RoutineEventLogEntry{
		InstanceID: inst.ID, Owner: "owner-1", Event: models.EventRoutineStarted, Timestamp: time.Now(),
	})

	cases := []struct {
		name, url string
		status    int
	}{
		{"templates", "/templates", http.StatusOK},
		{"instances", "/routines?owner=owner-1", http.StatusOK},
		{"instances without owner", "/routines", http.StatusBadRequest},
		{"events", "/routines/events?instance=" + string(inst.ID), http.StatusOK},
		{"events without instance", "/routines/events", http.StatusBadRequest},
		{"tasks", "/tasks?owner=owner-1", http.StatusOK},
		{"tasks without owner", "/tasks", http.StatusBadRequest},
	}
	for _, tc := range cases {
		req := testutil.CreateHTTPRequest(t, http.MethodGet, tc.url, nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		testutil.AssertHTTPStatus(t, tc.status, rr.Code, tc.name)
	}
}

func TestTaskCompleteEndpoint(t *testing.T) {
	srv, st, pub := newTestServer(t)
	handler := srv.Handler()

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/tasks/complete", map[string]any{
		"owner": "owner-1", "taskId": "nope",
	})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown task")

	_, _ = st.CreateTask(context.Background(), models.Task{
		ID: "task-1", Owner: "owner-1", Title: "Drink water", CreatedAt: time.Now(),
	})
	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/tasks/complete", map[string]any{
		"owner": "owner-1", "taskId": "task-1",
	})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "complete task")

	got := pub.all()
	if len(got) != 1 {
		t.Fatalf("expected one published event, got %v", got)
	}
	completed, ok := got[0].(events.TaskCompleted)
	if !ok || completed.TaskID != "task-1" {
		t.Errorf("unexpected event: %+v", got[0])
	}
}

func TestTaskRemoveEndpoint(t *testing.T) {
	srv, st, pub := newTestServer(t)
	handler := srv.Handler()

	_, _ = st.CreateTask(context.Background(), models.Task{
		ID: "task-1", Owner: "owner-1", Title: "Drink water", CreatedAt: time.Now(),
	})
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/tasks/remove", map[string]any{
		"owner": "owner-1", "taskId": "task-1",
	})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "remove task")

	got := pub.all()
	if len(got) != 1 {
		t.Fatalf("expected one published event, got %v", got)
	}
	removed, ok := got[0].(events.TaskRemoved)
	if !ok || removed.TaskID != "task-1" || removed.Completed || removed.TaskTitle != "Drink water" {
		t.Errorf("unexpected event: %+v", got[0])
	}

	if tasks, _ := st.ListTasksByOwner(context.Background(), "owner-1"); len(tasks) != 0 {
		t.Errorf("task should be gone, got %v", tasks)
	}
}

func TestInvalidJSONBody(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/routines/setup", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty body")
	testutil.AssertJSONResponse(t, rr, "error")
}
