package routine

import (
	"context"
	"sync"
	"time"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/models"
)

// fakeStore backs all five store ports for engine tests.
type fakeStore struct {
	mu             sync.Mutex
	templates      map[models.TemplateID]models.RoutineTemplate
	instances      map[models.InstanceID]models.RoutineInstance
	tasks          map[string]models.Task
	clarifications []models.PendingClarification
	entries        []models.RoutineEventLogEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		templates: make(map[models.TemplateID]models.RoutineTemplate),
		instances: make(map[models.InstanceID]models.RoutineInstance),
		tasks:     make(map[string]models.Task),
	}
}

func (s *fakeStore) SaveTemplate(ctx context.Context, tmpl models.RoutineTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tmpl.ID] = tmpl
	return nil
}

func (s *fakeStore) FindTemplate(ctx context.Context, id models.TemplateID) (models.RoutineTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmpl, ok := s.templates[id]
	if !ok {
		return models.RoutineTemplate{}, ErrTemplateNotFound
	}
	return tmpl, nil
}

func (s *fakeStore) ListTemplates(ctx context.Context) ([]models.RoutineTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RoutineTemplate
	for _, tmpl := range s.templates {
		out = append(out, tmpl)
	}
	return out, nil
}

func (s *fakeStore) SaveInstance(ctx context.Context, inst models.RoutineInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[inst.ID] = inst
	return nil
}

func (s *fakeStore) FindInstance(ctx context.Context, owner models.OwnerID, id models.InstanceID) (models.RoutineInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok || inst.Owner != owner {
		return models.RoutineInstance{}, ErrInstanceNotFound
	}
	return inst, nil
}

func (s *fakeStore) ListInstancesByOwner(ctx context.Context, owner models.OwnerID) ([]models.RoutineInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RoutineInstance
	for _, inst := range s.instances {
		if inst.Owner == owner {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (s *fakeStore) ListAllInstances(ctx context.Context) ([]models.RoutineInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RoutineInstance
	for _, inst := range s.instances {
		out = append(out, inst)
	}
	return out, nil
}

func (s *fakeStore) FindByTaskConcept(ctx context.Context, owner models.OwnerID, taskID string) ([]models.RoutineInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RoutineInstance
	for _, inst := range s.instances {
		if inst.Owner != owner {
			continue
		}
		if _, ok := inst.ConceptForTask(taskID); ok {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateTask(ctx context.Context, task models.Task) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return task, nil
}

func (s *fakeStore) FindTask(ctx context.Context, owner models.OwnerID, id string) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return models.Task{}, ErrTaskNotFound
	}
	return task, nil
}

func (s *fakeStore) CompleteTask(ctx context.Context, owner models.OwnerID, id string) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return models.Task{}, ErrTaskNotFound
	}
	now := time.Now()
	task.Completed = true
	task.CompletedAt = &now
	s.tasks[id] = task
	return task, nil
}

func (s *fakeStore) RemoveTask(ctx context.Context, owner models.OwnerID, id string) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return models.Task{}, ErrTaskNotFound
	}
	delete(s.tasks, id)
	return task, nil
}

func (s *fakeStore) ListTasksByOwner(ctx context.Context, owner models.OwnerID) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Task
	for _, task := range s.tasks {
		if task.Owner == owner {
			out = append(out, task)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveClarification(ctx context.Context, c models.PendingClarification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.clarifications {
		if existing.InstanceID == c.InstanceID && existing.StepID == c.StepID {
			s.clarifications[i] = c
			return nil
		}
	}
	s.clarifications = append(s.clarifications, c)
	return nil
}

func (s *fakeStore) ListClarificationsByOwner(ctx context.Context, owner models.OwnerID) ([]models.PendingClarification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PendingClarification
	for _, c := range s.clarifications {
		if c.Owner == owner {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) RemoveClarification(ctx context.Context, owner models.OwnerID, instanceID models.InstanceID, stepID models.StepID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.clarifications {
		if c.Owner == owner && c.InstanceID == instanceID && c.StepID == stepID {
			s.clarifications = append(s.clarifications[:i], s.clarifications[i+1:]...)
			return nil
		}
	}
	return ErrClarificationNotFound
}

func (s *fakeStore) AppendEvent(ctx context.Context, entry models.RoutineEventLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeStore) ListEvents(ctx context.Context, instanceID models.InstanceID) ([]models.RoutineEventLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RoutineEventLogEntry
	for _, entry := range s.entries {
		if entry.InstanceID == instanceID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *fakeStore) eventTypes(instanceID models.InstanceID) []models.RoutineEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var types []models.RoutineEventType
	for _, entry := range s.entries {
		if entry.InstanceID == instanceID {
			types = append(types, entry.Event)
		}
	}
	return types
}

// fakeMessenger records every sent message.
type fakeMessenger struct {
	mu       sync.Mutex
	messages []string
	failWith error
}

func (m *fakeMessenger) SendMessage(ctx context.Context, owner models.OwnerID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.messages = append(m.messages, text)
	return nil
}

func (m *fakeMessenger) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.messages...)
}

// fakeScheduler records schedule and remove calls by key.
type fakeScheduler struct {
	mu                 sync.Mutex
	scheduledSteps     []models.StepID
	scheduledTriggers  []models.TriggerID
	scheduledPhases    []models.PhaseID
	scheduledIteration []models.PhaseID
	removedSteps       []models.StepID
	removedIterations  []models.PhaseID
	removedActivations []models.PhaseID
}

func (f *fakeScheduler) ScheduleTrigger(ctx context.Context, inst models.RoutineInstance, trigger models.RoutineTrigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduledTriggers = append(f.scheduledTriggers, trigger.ID)
	return nil
}

func (f *fakeScheduler) ScheduleStep(ctx context.Context, inst models.RoutineInstance, step models.RoutineStep, phaseID models.PhaseID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduledSteps = append(f.scheduledSteps, step.StepID())
	return nil
}

func (f *fakeScheduler) SchedulePhaseActivation(ctx context.Context, inst models.RoutineInstance, phase models.RoutinePhase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduledPhases = append(f.scheduledPhases, phase.ID)
	return nil
}

func (f *fakeScheduler) SchedulePhaseIterations(ctx context.Context, inst models.RoutineInstance, phase models.RoutinePhase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduledIteration = append(f.scheduledIteration, phase.ID)
	return nil
}

func (f *fakeScheduler) RemoveStepSchedule(ctx context.Context, owner models.OwnerID, instanceID models.InstanceID, phaseID models.PhaseID, stepID models.StepID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedSteps = append(f.removedSteps, stepID)
	return nil
}

func (f *fakeScheduler) RemovePhaseIterationSchedule(ctx context.Context, owner models.OwnerID, instanceID models.InstanceID, phaseID models.PhaseID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedIterations = append(f.removedIterations, phaseID)
	return nil
}

func (f *fakeScheduler) RemovePhaseActivationSchedule(ctx context.Context, owner models.OwnerID, instanceID models.InstanceID, phaseID models.PhaseID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedActivations = append(f.removedActivations, phaseID)
	return nil
}

// fakePublisher collects published events for assertions.
type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *fakePublisher) published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event{}, p.events...)
}

func (p *fakePublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var names []string
	for _, ev := range p.events {
		names = append(names, ev.Name())
	}
	return names
}

// testHarness bundles an engine with its fakes.
type testHarness struct {
	engine    *Engine
	store     *fakeStore
	messenger *fakeMessenger
	scheduler *fakeScheduler
	publisher *fakePublisher
	clock     FixedClock
}

func newTestHarness(now time.Time) *testHarness {
	store := newFakeStore()
	messenger := &fakeMessenger{}
	scheduler := &fakeScheduler{}
	publisher := &fakePublisher{}
	clock := FixedClock{T: now}
	engine := NewEngine(store, store, store, store, store, messenger, scheduler, publisher,
		WithClock(clock), WithLocation(time.UTC))
	return &testHarness{
		engine:    engine,
		store:     store,
		messenger: messenger,
		scheduler: scheduler,
		publisher: publisher,
		clock:     clock,
	}
}

// mustSave puts a template and a started instance in the store.
func (h *testHarness) mustSave(tmpl models.RoutineTemplate, inst models.RoutineInstance) {
	_ = h.store.SaveTemplate(context.Background(), tmpl)
	_ = h.store.SaveInstance(context.Background(), inst)
}
