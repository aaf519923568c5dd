package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neurospicy/routinekit/internal/models"
	"github.com/neurospicy/routinekit/internal/routine"
)

var _ Store = (*InMemoryStore)(nil)

func TestInMemoryTemplates(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.FindTemplate(ctx, "missing:1.0"); !errors.Is(err, routine.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}

	tmpl := models.RoutineTemplate{ID: "morning:1.0", Title: "Morning routine", Version: "1.0"}
	if err := s.SaveTemplate(ctx, tmpl); err != nil {
		t.Fatalf("SaveTemplate: %v", err)
	}
	got, err := s.FindTemplate(ctx, "morning:1.0")
	if err != nil || got.Title != "Morning routine" {
		t.Errorf("FindTemplate: %+v, %v", got, err)
	}

	// Saving again replaces.
	tmpl.Title = "Morning routine v2"
	_ = s.SaveTemplate(ctx, tmpl)
	got, _ = s.FindTemplate(ctx, "morning:1.0")
	if got.Title != "Morning routine v2" {
		t.Errorf("save should replace, got %q", got.Title)
	}

	all, err := s.ListTemplates(ctx)
	if err != nil || len(all) != 1 {
		t.Errorf("ListTemplates: %v, %v", all, err)
	}
}

func TestInMemoryInstances(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.FindInstance(ctx, "owner-1", "nope"); !errors.Is(err, routine.ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}

	first := models.NewRoutineInstance("morning:1.0", "owner-1", nil)
	second := models.NewRoutineInstance("morning:1.0", "owner-2", nil)
	_ = s.SaveInstance(ctx, first)
	_ = s.SaveInstance(ctx, second)

	// Instances are scoped to their owner.
	if _, err := s.FindInstance(ctx, "owner-2", first.ID); !errors.Is(err, routine.ErrInstanceNotFound) {
		t.Errorf("owner-2 must not see owner-1's instance, got %v", err)
	}
	got, err := s.FindInstance(ctx, "owner-1", first.ID)
	if err != nil || got.ID != first.ID {
		t.Errorf("FindInstance: %+v, %v", got, err)
	}

	mine, _ := s.ListInstancesByOwner(ctx, "owner-1")
	if len(mine) != 1 {
		t.Errorf("ListInstancesByOwner: %v", mine)
	}
	all, _ := s.ListAllInstances(ctx)
	if len(all) != 2 {
		t.Errorf("ListAllInstances: %v", all)
	}
}

func TestInMemoryFindByTaskConcept(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	linked := models.NewRoutineInstance("morning:1.0", "owner-1", nil).
		WithConcept(models.TaskConcept{TaskID: "task-1", LinkedStep: "water"})
	other := models.NewRoutineInstance("morning:1.0", "owner-1", nil)
	_ = s.SaveInstance(ctx, linked)
	_ = s.SaveInstance(ctx, other)

	matches, err := s.FindByTaskConcept(ctx, "owner-1", "task-1")
	if err != nil || len(matches) != 1 || matches[0].ID != linked.ID {
		t.Errorf("FindByTaskConcept: %v, %v", matches, err)
	}
	matches, _ = s.FindByTaskConcept(ctx, "owner-1", "task-2")
	if len(matches) != 0 {
		t.Errorf("unknown task should match nothing, got %v", matches)
	}
}

func TestInMemoryTasks(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.FindTask(ctx, "owner-1", "nope"); !errors.Is(err, routine.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}

	task := models.Task{ID: "task-1", Owner: "owner-1", Title: "Drink water", CreatedAt: time.Now()}
	if _, err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	completed, err := s.CompleteTask(ctx, "owner-1", "task-1")
	if err != nil || !completed.Completed || completed.CompletedAt == nil {
		t.Fatalf("CompleteTask: %+v, %v", completed, err)
	}
	firstCompletion := *completed.CompletedAt

	// Completing again keeps the original completion time.
	completed, err = s.CompleteTask(ctx, "owner-1", "task-1")
	if err != nil || !completed.CompletedAt.Equal(firstCompletion) {
		t.Errorf("repeated completion must be idempotent: %+v, %v", completed, err)
	}

	removed, err := s.RemoveTask(ctx, "owner-1", "task-1")
	if err != nil || removed.ID != "task-1" {
		t.Fatalf("RemoveTask: %+v, %v", removed, err)
	}
	if _, err := s.RemoveTask(ctx, "owner-1", "task-1"); !errors.Is(err, routine.ErrTaskNotFound) {
		t.Errorf("removing twice: expected ErrTaskNotFound, got %v", err)
	}
	if tasks, _ := s.ListTasksByOwner(ctx, "owner-1"); len(tasks) != 0 {
		t.Errorf("task list should be empty, got %v", tasks)
	}
}

func TestInMemoryClarifications(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	c := models.PendingClarification{
		Owner: "owner-1", InstanceID: "inst-1", PhaseID: "wake-up", StepID: "ask-wake",
		Question: "When do you wake up?", ParameterKey: "wakeUpTime",
		ParameterType: models.ParameterTypeLocalTime, AskedAt: time.Now(),
	}
	if err := s.SaveClarification(ctx, c); err != nil {
		t.Fatalf("SaveClarification: %v", err)
	}

	// Re-asking the same step replaces the entry instead of stacking.
	c.Question = "When do you usually wake up?"
	_ = s.SaveClarification(ctx, c)
	pending, _ := s.ListClarificationsByOwner(ctx, "owner-1")
	if len(pending) != 1 || pending[0].Question != "When do you usually wake up?" {
		t.Fatalf("expected one replaced clarification, got %+v", pending)
	}

	if err := s.RemoveClarification(ctx, "owner-1", "inst-1", "ask-wake"); err != nil {
		t.Fatalf("RemoveClarification: %v", err)
	}
	if err := s.RemoveClarification(ctx, "owner-1", "inst-1", "ask-wake"); !errors.Is(err, routine.ErrClarificationNotFound) {
		t.Errorf("expected ErrClarificationNotFound, got %v", err)
	}
}

func TestInMemoryEventLog(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for i, ev := range []models.RoutineEventType{models.EventRoutineStarted, models.EventPhaseActivated} {
		err := s.AppendEvent(ctx, models.RoutineEventLogEntry{
			InstanceID: "inst-1", Owner: "owner-1", Event: ev,
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	entries, err := s.ListEvents(ctx, "inst-1")
	if err != nil || len(entries) != 2 {
		t.Fatalf("ListEvents: %v, %v", entries, err)
	}
	if entries[0].Event != models.EventRoutineStarted || entries[1].Event != models.EventPhaseActivated {
		t.Errorf("entries out of append order: %+v", entries)
	}
	if other, _ := s.ListEvents(ctx, "inst-2"); len(other) != 0 {
		t.Errorf("unknown instance should have no events, got %v", other)
	}
}
