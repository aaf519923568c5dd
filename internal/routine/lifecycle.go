package routine

import (
	"context"
	"fmt"

	"github.com/neurospicy/routinekit/internal/events"
)

// RegisterHandlers subscribes every engine handler to the bus. Call once at
// startup, before the bus starts dispatching.
func (e *Engine) RegisterHandlers(bus *events.Bus) {
	bus.Subscribe(on(e.HandleRoutineStarted), events.RoutineStarted{}.Name())
	bus.Subscribe(on(e.HandleRoutineStartedAnchor), events.RoutineStarted{}.Name())
	bus.Subscribe(on(e.HandlePhaseEnteredAnchor), events.PhaseActivated{}.Name())
	bus.Subscribe(on(e.HandlePhaseLeftAnchor), events.PhaseDeactivated{}.Name())
	bus.Subscribe(on(e.HandlePhaseDue), events.PhaseDue{}.Name())
	bus.Subscribe(on(e.HandlePhaseIterationDue), events.PhaseIterationDue{}.Name())
	bus.Subscribe(on(e.HandlePhaseIterationCompleted), events.PhaseIterationCompleted{}.Name())
	bus.Subscribe(on(e.HandleStepDue), events.StepDue{}.Name())
	bus.Subscribe(on(e.HandleTriggerDue), events.TriggerDue{}.Name())
	bus.Subscribe(on(e.HandleParameterSet), events.ParameterSet{}.Name())
	bus.Subscribe(on(e.HandleStopRoutineForToday), events.StopRoutineForToday{}.Name())
	bus.Subscribe(on(e.HandleTaskCompleted), events.TaskCompleted{}.Name())
	bus.Subscribe(on(e.HandleTaskRemoved), events.TaskRemoved{}.Name())
	bus.Subscribe(on(e.HandleTaskLinkBroken), events.TaskLinkBroken{}.Name())

	// Concept cleanup runs before the completion bookkeeping for the same
	// confirmation event; both hold the instance lock for the whole dispatch.
	bus.Subscribe(on(e.HandleActionStepConfirmed), events.ActionStepConfirmed{}.Name())
	bus.Subscribe(e.onStepCompleted,
		events.MessageStepSent{}.Name(),
		events.ActionStepConfirmed{}.Name(),
		events.ParameterSet{}.Name(),
	)
}

// on adapts a typed handler to the bus handler signature.
func on[E events.Event](handler func(context.Context, E) error) events.Handler {
	return func(ctx context.Context, ev events.Event) error {
		typed, ok := ev.(E)
		if !ok {
			return fmt.Errorf("unexpected event %T for %q", ev, ev.Name())
		}
		return handler(ctx, typed)
	}
}

func (e *Engine) onStepCompleted(ctx context.Context, ev events.Event) error {
	completed, ok := ev.(events.StepCompleted)
	if !ok {
		return fmt.Errorf("unexpected event %T for %q", ev, ev.Name())
	}
	return e.HandleStepCompleted(ctx, completed)
}
