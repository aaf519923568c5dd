// Package scheduler turns routine time rules into fired events.
//
// Phase recurrences run on cron expressions; steps, triggers and phase
// activations run on keyed one-shot timers. When a timer or cron entry fires,
// the scheduler publishes the matching Due event and lets the engine decide
// what, if anything, still has to happen. Entries whose fire time cannot be
// resolved yet (a referenced parameter is not captured) are skipped and
// re-registered by the engine once the parameter arrives.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/models"
	"github.com/neurospicy/routinekit/internal/routine"
)

// RoutineScheduler implements the engine's scheduler port on top of a cron
// runner and keyed one-shot timers. All schedule state is in memory; on
// restart the recovery pass re-registers entries from the persisted
// instances.
type RoutineScheduler struct {
	cron      *cron.Cron
	entriesMu sync.Mutex
	entries   map[string]cron.EntryID

	timers    *keyedTimer
	publisher routine.Publisher
	audit     routine.EventLog
	clock     routine.Clock
	loc       *time.Location
}

// Option configures optional scheduler collaborators.
type Option func(*RoutineScheduler)

// WithClock replaces the scheduler's time source. Test helper.
func WithClock(c routine.Clock) Option {
	return func(s *RoutineScheduler) { s.clock = c }
}

// WithLocation sets the timezone clock times resolve in.
func WithLocation(loc *time.Location) Option {
	return func(s *RoutineScheduler) { s.loc = loc }
}

// NewRoutineScheduler creates a stopped scheduler; call Start to begin firing
// cron entries.
func NewRoutineScheduler(publisher routine.Publisher, audit routine.EventLog, opts ...Option) *RoutineScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s := &RoutineScheduler{
		cron:      cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		entries:   make(map[string]cron.EntryID),
		timers:    newKeyedTimer(),
		publisher: publisher,
		audit:     audit,
		clock:     routine.SystemClock{},
		loc:       time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the cron runner.
func (s *RoutineScheduler) Start() {
	s.cron.Start()
	slog.Debug("Routine scheduler started")
}

// Stop halts the cron runner and cancels all pending timers.
func (s *RoutineScheduler) Stop() {
	s.cron.Stop()
	s.timers.stop()
	slog.Debug("Routine scheduler stopped")
}

func stepKey(owner models.OwnerID, instanceID models.InstanceID, phaseID models.PhaseID, stepID models.StepID) string {
	return fmt.Sprintf("routine-step-%s-%s-%s-%s", owner, instanceID, phaseID, stepID)
}

func phaseKey(owner models.OwnerID, instanceID models.InstanceID, phaseID models.PhaseID) string {
	return fmt.Sprintf("routine-phase-%s-%s-%s", owner, instanceID, phaseID)
}

func triggerKey(owner models.OwnerID, instanceID models.InstanceID, triggerID models.TriggerID) string {
	return fmt.Sprintf("routine-trigger-%s-%s-%s", owner, instanceID, triggerID)
}

func iterationKey(owner models.OwnerID, instanceID models.InstanceID, phaseID models.PhaseID) string {
	return fmt.Sprintf("routine-iteration-%s-%s-%s", owner, instanceID, phaseID)
}

// ScheduleStep arranges the step's Due event. A step without its own time
// fires immediately; a step whose time already passed today fires at the same
// time tomorrow; a step whose time cannot be resolved yet is skipped.
func (s *RoutineScheduler) ScheduleStep(ctx context.Context, inst models.RoutineInstance, step models.RoutineStep, phaseID models.PhaseID) error {
	ev := events.StepDue{Owner: inst.Owner, InstanceID: inst.ID, PhaseID: phaseID, StepID: step.StepID()}

	tod := step.StepTimeOfDay()
	if tod == nil {
		s.publisher.Publish(ev)
		return nil
	}
	now := s.clock.Now()
	at, err := routine.ResolveTimeOfDay(*tod, inst, now, s.loc)
	if err != nil {
		return fmt.Errorf("resolving time of step %s: %w", step.StepID(), err)
	}
	if at == nil {
		slog.Debug("Step time not resolvable yet, skipping",
			"instance_id", string(inst.ID), "step_id", string(step.StepID()), "time_of_day", tod.String())
		return nil
	}
	fireAt := *at
	if fireAt.Before(now) {
		fireAt = fireAt.AddDate(0, 0, 1)
	}

	s.timers.scheduleAt(stepKey(inst.Owner, inst.ID, phaseID, step.StepID()), fireAt, func() {
		s.publisher.Publish(ev)
	})
	s.record(ctx, inst, models.EventStepScheduled, map[string]string{
		"stepId": string(step.StepID()),
		"at":     fireAt.Format(time.RFC3339),
	})
	s.publisher.Publish(events.StepScheduled{InstanceID: inst.ID, PhaseID: phaseID, StepID: step.StepID(), ScheduledAt: fireAt})
	return nil
}

// ScheduleTrigger arranges a time-based trigger's Due event.
func (s *RoutineScheduler) ScheduleTrigger(ctx context.Context, inst models.RoutineInstance, trigger models.RoutineTrigger) error {
	at, err := s.fireTime(trigger.Condition, inst)
	if err != nil {
		return fmt.Errorf("resolving time of trigger %s: %w", trigger.ID, err)
	}
	if at == nil {
		slog.Debug("Trigger time not resolvable yet, skipping",
			"instance_id", string(inst.ID), "trigger_id", string(trigger.ID), "condition", trigger.Condition.ConditionType())
		return nil
	}

	ev := events.TriggerDue{Owner: inst.Owner, InstanceID: inst.ID, TriggerID: trigger.ID}
	s.timers.scheduleAt(triggerKey(inst.Owner, inst.ID, trigger.ID), *at, func() {
		s.publisher.Publish(ev)
	})
	s.record(ctx, inst, models.EventTriggerScheduled, map[string]string{
		"triggerId": string(trigger.ID),
		"at":        at.Format(time.RFC3339),
	})
	s.publisher.Publish(events.TriggerScheduled{InstanceID: inst.ID, TriggerID: trigger.ID, ScheduledAt: *at})
	return nil
}

// SchedulePhaseActivation arranges a phase's Due event from its condition.
func (s *RoutineScheduler) SchedulePhaseActivation(ctx context.Context, inst models.RoutineInstance, phase models.RoutinePhase) error {
	at, err := s.fireTime(phase.Condition, inst)
	if err != nil {
		return fmt.Errorf("resolving activation time of phase %s: %w", phase.ID, err)
	}
	if at == nil {
		slog.Debug("Phase activation time not resolvable yet, skipping",
			"instance_id", string(inst.ID), "phase_id", string(phase.ID))
		return nil
	}

	ev := events.PhaseDue{Owner: inst.Owner, InstanceID: inst.ID, PhaseID: phase.ID}
	s.timers.scheduleAt(phaseKey(inst.Owner, inst.ID, phase.ID), *at, func() {
		s.publisher.Publish(ev)
	})
	s.record(ctx, inst, models.EventPhaseScheduled, map[string]string{
		"phaseId": string(phase.ID),
		"at":      at.Format(time.RFC3339),
	})
	s.publisher.Publish(events.PhaseScheduled{InstanceID: inst.ID, PhaseID: phase.ID, ScheduledAt: *at})
	return nil
}

// SchedulePhaseIterations registers the phase's recurrence as a cron entry,
// replacing any previous entry for the same phase.
func (s *RoutineScheduler) SchedulePhaseIterations(ctx context.Context, inst models.RoutineInstance, phase models.RoutinePhase) error {
	expr := phase.Schedule.Cron()
	ev := events.PhaseIterationDue{Owner: inst.Owner, InstanceID: inst.ID, PhaseID: phase.ID}
	key := iterationKey(inst.Owner, inst.ID, phase.ID)

	s.entriesMu.Lock()
	if existing, ok := s.entries[key]; ok {
		s.cron.Remove(existing)
	}
	entryID, err := s.cron.AddFunc(expr, func() {
		s.publisher.Publish(ev)
	})
	if err != nil {
		s.entriesMu.Unlock()
		return fmt.Errorf("adding cron entry %q for phase %s: %w", expr, phase.ID, err)
	}
	s.entries[key] = entryID
	s.entriesMu.Unlock()

	s.record(ctx, inst, models.EventPhaseIterationsScheduled, map[string]string{
		"phaseId":  string(phase.ID),
		"schedule": string(phase.Schedule),
	})
	s.publisher.Publish(events.PhaseIterationsScheduled{InstanceID: inst.ID, PhaseID: phase.ID})
	return nil
}

// RemoveStepSchedule cancels the step's pending timer, if any.
func (s *RoutineScheduler) RemoveStepSchedule(ctx context.Context, owner models.OwnerID, instanceID models.InstanceID, phaseID models.PhaseID, stepID models.StepID) error {
	s.timers.cancel(stepKey(owner, instanceID, phaseID, stepID))
	return nil
}

// RemovePhaseActivationSchedule cancels the phase's pending activation timer.
func (s *RoutineScheduler) RemovePhaseActivationSchedule(ctx context.Context, owner models.OwnerID, instanceID models.InstanceID, phaseID models.PhaseID) error {
	s.timers.cancel(phaseKey(owner, instanceID, phaseID))
	return nil
}

// RemovePhaseIterationSchedule drops the phase's cron entry.
func (s *RoutineScheduler) RemovePhaseIterationSchedule(ctx context.Context, owner models.OwnerID, instanceID models.InstanceID, phaseID models.PhaseID) error {
	key := iterationKey(owner, instanceID, phaseID)
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	if entryID, ok := s.entries[key]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, key)
	}
	return nil
}

// fireTime computes when a time-based condition comes due. nil with nil error
// means "cannot be determined yet": either a referenced parameter is missing
// or the condition is not time-based at all.
func (s *RoutineScheduler) fireTime(condition models.TriggerCondition, inst models.RoutineInstance) (*time.Time, error) {
	if condition == nil {
		return nil, nil
	}
	now := s.clock.Now()
	switch c := condition.(type) {
	case models.AfterDays:
		base, err := routine.ResolveTimeExpression("${"+models.ParameterKeyForAnchor(models.AnchorRoutineStarted)+"}", inst, now, s.loc)
		if err != nil || base == nil {
			return nil, err
		}
		at := base.AddDate(0, 0, c.Days)
		return &at, nil
	case models.AfterDuration:
		base := &now
		if c.Reference != "" {
			var err error
			base, err = routine.ResolveTimeExpression("${"+c.Reference+"}", inst, now, s.loc)
			if err != nil || base == nil {
				return nil, err
			}
		}
		at := base.Add(c.Duration)
		return &at, nil
	case models.AfterEvent:
		// The anchor parameter is stamped when the event happens; before
		// that the condition has nothing to anchor on.
		if !inst.HasParameter(models.ParameterKeyForAnchor(c.Event)) {
			return nil, nil
		}
		return routine.ResolveTimeExpression(c.TimeExpression, inst, now, s.loc)
	case models.AtTimeExpression:
		return routine.ResolveTimeExpression(c.TimeExpression, inst, now, s.loc)
	default:
		return nil, nil
	}
}

// record appends an audit entry; failures are logged only.
func (s *RoutineScheduler) record(ctx context.Context, inst models.RoutineInstance, event models.RoutineEventType, metadata map[string]string) {
	entry := models.RoutineEventLogEntry{
		InstanceID: inst.ID,
		Owner:      inst.Owner,
		Event:      event,
		Timestamp:  s.clock.Now(),
		Metadata:   metadata,
	}
	if err := s.audit.AppendEvent(ctx, entry); err != nil {
		slog.Error("Failed to append schedule audit entry",
			"instance_id", string(inst.ID), "event", string(event), "error", err)
	}
}
