package store

import (
	"context"
	"sync"

	"github.com/neurospicy/routinekit/internal/models"
	"github.com/neurospicy/routinekit/internal/routine"
)

// InMemoryStore keeps everything in process memory. It backs tests and
// throwaway runs; a restart loses all routines.
type InMemoryStore struct {
	mu             sync.RWMutex
	templates      map[models.TemplateID]models.RoutineTemplate
	instances      map[models.OwnerID]map[models.InstanceID]models.RoutineInstance
	tasks          map[models.OwnerID]map[string]models.Task
	clarifications map[models.OwnerID]map[clarificationKey]models.PendingClarification
	events         map[models.InstanceID][]models.RoutineEventLogEntry
}

type clarificationKey struct {
	instanceID models.InstanceID
	stepID     models.StepID
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		templates:      make(map[models.TemplateID]models.RoutineTemplate),
		instances:      make(map[models.OwnerID]map[models.InstanceID]models.RoutineInstance),
		tasks:          make(map[models.OwnerID]map[string]models.Task),
		clarifications: make(map[models.OwnerID]map[clarificationKey]models.PendingClarification),
		events:         make(map[models.InstanceID][]models.RoutineEventLogEntry),
	}
}

// Close is a no-op; there is nothing to release.
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) SaveTemplate(ctx context.Context, tmpl models.RoutineTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tmpl.ID] = tmpl
	return nil
}

func (s *InMemoryStore) FindTemplate(ctx context.Context, id models.TemplateID) (models.RoutineTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tmpl, ok := s.templates[id]
	if !ok {
		return models.RoutineTemplate{}, routine.ErrTemplateNotFound
	}
	return tmpl, nil
}

func (s *InMemoryStore) ListTemplates(ctx context.Context) ([]models.RoutineTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	templates := make([]models.RoutineTemplate, 0, len(s.templates))
	for _, tmpl := range s.templates {
		templates = append(templates, tmpl)
	}
	return templates, nil
}

func (s *InMemoryStore) SaveInstance(ctx context.Context, inst models.RoutineInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.instances[inst.Owner]
	if !ok {
		byID = make(map[models.InstanceID]models.RoutineInstance)
		s.instances[inst.Owner] = byID
	}
	byID[inst.ID] = inst
	return nil
}

func (s *InMemoryStore) FindInstance(ctx context.Context, owner models.OwnerID, id models.InstanceID) (models.RoutineInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[owner][id]
	if !ok {
		return models.RoutineInstance{}, routine.ErrInstanceNotFound
	}
	return inst, nil
}

func (s *InMemoryStore) ListInstancesByOwner(ctx context.Context, owner models.OwnerID) ([]models.RoutineInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	instances := make([]models.RoutineInstance, 0, len(s.instances[owner]))
	for _, inst := range s.instances[owner] {
		instances = append(instances, inst)
	}
	return instances, nil
}

func (s *InMemoryStore) ListAllInstances(ctx context.Context) ([]models.RoutineInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var instances []models.RoutineInstance
	for _, byID := range s.instances {
		for _, inst := range byID {
			instances = append(instances, inst)
		}
	}
	return instances, nil
}

func (s *InMemoryStore) FindByTaskConcept(ctx context.Context, owner models.OwnerID, taskID string) ([]models.RoutineInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []models.RoutineInstance
	for _, inst := range s.instances[owner] {
		if _, ok := inst.ConceptForTask(taskID); ok {
			matches = append(matches, inst)
		}
	}
	return matches, nil
}

func (s *InMemoryStore) CreateTask(ctx context.Context, task models.Task) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.tasks[task.Owner]
	if !ok {
		byID = make(map[string]models.Task)
		s.tasks[task.Owner] = byID
	}
	byID[task.ID] = task
	return task, nil
}

func (s *InMemoryStore) FindTask(ctx context.Context, owner models.OwnerID, id string) (models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[owner][id]
	if !ok {
		return models.Task{}, routine.ErrTaskNotFound
	}
	return task, nil
}

func (s *InMemoryStore) CompleteTask(ctx context.Context, owner models.OwnerID, id string) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[owner][id]
	if !ok {
		return models.Task{}, routine.ErrTaskNotFound
	}
	if !task.Completed {
		task.Completed = true
		now := nowUTC()
		task.CompletedAt = &now
		s.tasks[owner][id] = task
	}
	return task, nil
}

func (s *InMemoryStore) RemoveTask(ctx context.Context, owner models.OwnerID, id string) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[owner][id]
	if !ok {
		return models.Task{}, routine.ErrTaskNotFound
	}
	delete(s.tasks[owner], id)
	return task, nil
}

func (s *InMemoryStore) ListTasksByOwner(ctx context.Context, owner models.OwnerID) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]models.Task, 0, len(s.tasks[owner]))
	for _, task := range s.tasks[owner] {
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (s *InMemoryStore) SaveClarification(ctx context.Context, c models.PendingClarification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.clarifications[c.Owner]
	if !ok {
		byKey = make(map[clarificationKey]models.PendingClarification)
		s.clarifications[c.Owner] = byKey
	}
	byKey[clarificationKey{c.InstanceID, c.StepID}] = c
	return nil
}

func (s *InMemoryStore) ListClarificationsByOwner(ctx context.Context, owner models.OwnerID) ([]models.PendingClarification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pending := make([]models.PendingClarification, 0, len(s.clarifications[owner]))
	for _, c := range s.clarifications[owner] {
		pending = append(pending, c)
	}
	return pending, nil
}

func (s *InMemoryStore) RemoveClarification(ctx context.Context, owner models.OwnerID, instanceID models.InstanceID, stepID models.StepID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := clarificationKey{instanceID, stepID}
	if _, ok := s.clarifications[owner][key]; !ok {
		return routine.ErrClarificationNotFound
	}
	delete(s.clarifications[owner], key)
	return nil
}

func (s *InMemoryStore) AppendEvent(ctx context.Context, entry models.RoutineEventLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[entry.InstanceID] = append(s.events[entry.InstanceID], entry)
	return nil
}

func (s *InMemoryStore) ListEvents(ctx context.Context, instanceID models.InstanceID) ([]models.RoutineEventLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]models.RoutineEventLogEntry, len(s.events[instanceID]))
	copy(entries, s.events[instanceID])
	return entries, nil
}
