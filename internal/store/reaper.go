package store

import (
	"log/slog"
	"time"
)

const (
	// DefaultSessionRetention is how long a session survives without an update.
	DefaultSessionRetention = time.Hour
	// DefaultSweepInterval is how often the reaper runs.
	DefaultSweepInterval = 10 * time.Minute
)

// Scheduler runs a task at a fixed interval.
type Scheduler interface {
	Every(interval time.Duration, task func()) error
}

// Reaper evicts sessions whose last update is older than the retention window.
type Reaper struct {
	sessions  *SessionStore
	retention time.Duration
	interval  time.Duration
	onEvict   func(ids []string)
	now       func() time.Time
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithRetention overrides DefaultSessionRetention.
func WithRetention(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.retention = d
		}
	}
}

// WithSweepInterval overrides DefaultSweepInterval.
func WithSweepInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithEvictHook registers a callback invoked with the ids removed by each sweep.
func WithEvictHook(fn func(ids []string)) ReaperOption {
	return func(r *Reaper) {
		r.onEvict = fn
	}
}

// WithClock overrides the time source used to compute the cutoff.
func WithClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReaper creates a reaper for the given session store.
func NewReaper(sessions *SessionStore, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		sessions:  sessions,
		retention: DefaultSessionRetention,
		interval:  DefaultSweepInterval,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start registers the periodic sweep on the scheduler.
func (r *Reaper) Start(s Scheduler) error {
	slog.Info("Reaper.Start: scheduling session sweep", "interval", r.interval, "retention", r.retention)
	return s.Every(r.interval, func() { r.Sweep() })
}

// Sweep removes every stale session once and returns the removed ids.
func (r *Reaper) Sweep() []string {
	cutoff := r.now().Add(-r.retention)
	removed := r.sessions.RemoveStale(cutoff)
	if len(removed) == 0 {
		slog.Debug("Reaper.Sweep: nothing to remove", "remaining", r.sessions.Count())
		return nil
	}
	slog.Info("Reaper.Sweep: removed stale sessions", "count", len(removed), "remaining", r.sessions.Count())
	if r.onEvict != nil {
		r.onEvict(removed)
	}
	return removed
}
