package scheduler

import (
	"log/slog"
	"sync"
	"time"
)

// timerEntry tracks one scheduled one-shot.
type timerEntry struct {
	timer     *time.Timer
	expiresAt time.Time
}

// keyedTimer runs one-shot functions at absolute times, keyed by caller-chosen
// ids. Scheduling an already used key replaces the previous entry, which is
// how reschedules after parameter changes work.
type keyedTimer struct {
	mu     sync.Mutex
	timers map[string]*timerEntry
}

func newKeyedTimer() *keyedTimer {
	return &keyedTimer{timers: make(map[string]*timerEntry)}
}

// scheduleAt arranges fn to run at the given time under the key. A time in
// the past runs fn immediately on its own goroutine.
func (t *keyedTimer) scheduleAt(key string, at time.Time, fn func()) {
	delay := time.Until(at)
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.timers[key]; ok {
		existing.timer.Stop()
		delete(t.timers, key)
		slog.Debug("Replacing scheduled timer", "key", key)
	}
	if delay <= 0 {
		slog.Debug("Timer fire time already passed, firing now", "key", key, "at", at)
		go fn()
		return
	}

	t.timers[key] = &timerEntry{
		timer: time.AfterFunc(delay, func() {
			t.mu.Lock()
			delete(t.timers, key)
			t.mu.Unlock()
			fn()
		}),
		expiresAt: at,
	}
	slog.Debug("Timer scheduled", "key", key, "at", at, "delay", delay)
}

// cancel stops and forgets the timer under the key. Unknown keys are no-ops.
func (t *keyedTimer) cancel(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.timers[key]; ok {
		entry.timer.Stop()
		delete(t.timers, key)
		slog.Debug("Timer cancelled", "key", key)
	}
}

// active reports whether a timer is pending under the key.
func (t *keyedTimer) active(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[key]
	return ok
}

// stop cancels every pending timer.
func (t *keyedTimer) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, entry := range t.timers {
		entry.timer.Stop()
		delete(t.timers, key)
	}
	slog.Debug("All timers stopped")
}
