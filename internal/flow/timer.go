package flow

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrTimerStopped is returned when scheduling on a stopped timer.
var ErrTimerStopped = errors.New("timer stopped")

// timerEntry tracks information about a scheduled timer
type timerEntry struct {
	timer       *time.Timer
	expiresAt   time.Time
}

// SimpleTimer runs delayed functions keyed by a caller-chosen id. Scheduling an id
// that already has a pending function replaces it.
type SimpleTimer struct {
	mu      sync.Mutex
	timers  map[string]*timerEntry
	stopped bool
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	slog.Debug("Creating SimpleTimer")
	return &SimpleTimer{
		timers: make(map[string]*timerEntry),
	}
}

// ScheduleAfter schedules fn to run after delay under the given id.
func (t *SimpleTimer) ScheduleAfter(id string, delay time.Duration, fn func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return ErrTimerStopped
	}
	if prev, exists := t.timers[id]; exists {
		prev.timer.Stop()
		slog.Debug("SimpleTimer ScheduleAfter: replacing pending timer", "id", id)
	}

	now := time.Now()
	entry := &timerEntry{expiresAt: now.Add(delay)}
	entry.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		current, ok := t.timers[id]
		if !ok || current != entry {
			t.mu.Unlock()
			return
		}
		delete(t.timers, id)
		t.mu.Unlock()
		slog.Debug("SimpleTimer executing scheduled function", "id", id)
		fn()
	})
	t.timers[id] = entry
	slog.Debug("SimpleTimer ScheduleAfter succeeded", "id", id, "delay", delay)
	return nil
}

// Cancel cancels the pending function for id. It reports whether one was pending.
func (t *SimpleTimer) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.timers[id]; exists {
		entry.timer.Stop()
		delete(t.timers, id)
		slog.Debug("SimpleTimer Cancel succeeded", "id", id)
		return true
	}
	return false
}

// Pending reports whether a function is scheduled for id.
func (t *SimpleTimer) Pending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[id]
	return ok
}

// Remaining returns the time left before the function for id runs.
func (t *SimpleTimer) Remaining(id string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.timers[id]
	if !ok {
		return 0, false
	}
	remaining := time.Until(entry.expiresAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Len returns the number of pending functions.
func (t *SimpleTimer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Stop cancels all scheduled timers and rejects new ones.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	slog.Debug("SimpleTimer stopping all timers", "count", len(t.timers))
	for _, entry := range t.timers {
		entry.timer.Stop()
	}
	t.timers = make(map[string]*timerEntry)
	t.stopped = true
	slog.Info("SimpleTimer stopped all timers")
}
