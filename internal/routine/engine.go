package routine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/models"
)

// Publisher is the slice of the event bus the engine needs.
type Publisher interface {
	Publish(ev events.Event)
}

// Engine executes routines: it reacts to due-events from the scheduler,
// advances instances, sends messages, and publishes the resulting lifecycle
// events. All state lives behind the port interfaces, so the engine value
// itself is safe for concurrent use.
type Engine struct {
	templates      TemplateStore
	instances      InstanceStore
	tasks          TaskStore
	clarifications ClarificationStore
	audit          EventLog
	messenger      Messenger
	scheduler      Scheduler
	publisher      Publisher
	clock          Clock
	loc            *time.Location
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithClock replaces the engine's time source. Test helper.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLocation sets the timezone clock times and dates resolve in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// NewEngine wires the engine to its collaborators.
func NewEngine(
	templates TemplateStore,
	instances InstanceStore,
	tasks TaskStore,
	clarifications ClarificationStore,
	audit EventLog,
	messenger Messenger,
	scheduler Scheduler,
	publisher Publisher,
	opts ...Option,
) *Engine {
	e := &Engine{
		templates:      templates,
		instances:      instances,
		tasks:          tasks,
		clarifications: clarifications,
		audit:          audit,
		messenger:      messenger,
		scheduler:      scheduler,
		publisher:      publisher,
		clock:          SystemClock{},
		loc:            time.Local,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// load fetches an instance together with its template.
func (e *Engine) load(ctx context.Context, owner models.OwnerID, id models.InstanceID) (models.RoutineInstance, models.RoutineTemplate, error) {
	inst, err := e.instances.FindInstance(ctx, owner, id)
	if err != nil {
		return models.RoutineInstance{}, models.RoutineTemplate{}, fmt.Errorf("loading instance %s: %w", id, err)
	}
	tmpl, err := e.templates.FindTemplate(ctx, inst.TemplateID)
	if err != nil {
		return models.RoutineInstance{}, models.RoutineTemplate{}, fmt.Errorf("loading template %s: %w", inst.TemplateID, err)
	}
	return inst, tmpl, nil
}

// recordEvent appends an audit entry. Audit failures never fail the
// operation that produced them.
func (e *Engine) recordEvent(ctx context.Context, inst models.RoutineInstance, event models.RoutineEventType, metadata map[string]string) {
	entry := models.RoutineEventLogEntry{
		InstanceID: inst.ID,
		Owner:      inst.Owner,
		Event:      event,
		Timestamp:  e.clock.Now(),
		Metadata:   metadata,
	}
	if err := e.audit.AppendEvent(ctx, entry); err != nil {
		slog.Error("Failed to append routine event log entry", "instance_id", string(inst.ID), "event", string(event), "error", err)
	}
}
