package events

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultWorkerCount is the number of dispatch workers started by NewBus.
const DefaultWorkerCount = 4

// DefaultQueueSize bounds the pending event queue.
const DefaultQueueSize = 256

// Handler consumes one event. Returned errors are logged and the event is
// dropped; the bus never retries.
type Handler func(ctx context.Context, ev Event) error

// Bus is an explicit in-process publish-subscribe dispatcher. Handlers are
// registered per event name; published events are delivered asynchronously on
// a fixed worker pool. Deliveries for events sharing a non-empty instance key
// are serialized through a keyed mutex, so two handlers can never interleave
// a read-modify-write of the same RoutineInstance.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler

	queue chan Event
	locks *keyedLocks

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	workers   int
}

// NewBus creates a bus with default worker pool and queue sizes.
func NewBus() *Bus {
	return NewBusWith(DefaultWorkerCount, DefaultQueueSize)
}

// NewBusWith creates a bus with explicit worker pool and queue sizes.
func NewBusWith(workers, queueSize int) *Bus {
	if workers <= 0 {
		workers = DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		handlers: make(map[string][]Handler),
		queue:    make(chan Event, queueSize),
		locks:    newKeyedLocks(),
		done:     make(chan struct{}),
		workers:  workers,
	}
}

// Subscribe registers a handler for every listed event name. Registration is
// not safe to call concurrently with Publish; wire subscriptions at startup.
func (b *Bus) Subscribe(handler Handler, names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range names {
		b.handlers[name] = append(b.handlers[name], handler)
	}
}

// Start launches the worker pool.
func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		ctx, b.cancel = context.WithCancel(ctx)
		for i := 0; i < b.workers; i++ {
			b.wg.Add(1)
			go b.work(ctx)
		}
		slog.Debug("Event bus started", "workers", b.workers)
	})
}

/// Stop drains nothing: pending events are abandoned, in-flight handlers run
// to completion.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()
		slog.Debug("Event bus stopped")
	})
}

// Publish enqueues the event for asynchronous delivery. When the queue is
// full the publisher blocks until a worker frees a slot; a publisher still
// blocked when Stop is called is released and its event dropped, so a
// handler publishing into a saturated queue cannot wedge shutdown.
func (b *Bus) Publish(ev Event) {
	slog.Debug("Publishing event", "event", ev.Name(), "instance_id", string(ev.Key()))
	select {
	case b.queue <- ev:
	case <-b.done:
		slog.Warn("Dropping event published during shutdown", "event", ev.Name(), "instance_id", string(ev.Key()))
	}
}

func (b *Bus) work(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.queue:
			b.dispatch(ctx, ev)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := b.handlers[ev.Name()]
	b.mu.RUnlock()
	if len(handlers) == 0 {
		slog.Debug("No handlers for event", "event", ev.Name())
		return
	}

	if key := ev.Key(); key != "" {
		unlock := b.locks.lock(string(key))
		defer unlock()
	}

	for _, handler := range handlers {
		b.invoke(ctx, handler, ev)
	}
}

func (b *Bus) invoke(ctx context.Context, handler Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked", "event", ev.Name(), "panic", r)
		}
	}()
	if err := handler(ctx, ev); err != nil {
		// Not-found and stale-schedule failures end up here: logged, dropped,
		// no retry. Redelivery, if any, is the scheduler's concern.
		slog.Error("Event handler failed", "event", ev.Name(), "instance_id", string(ev.Key()), "error", err)
	}
}

// keyedLocks hands out one mutex per active key, dropping entries once no
// holder or waiter remains.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyedLock)}
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
