// Package ratelimit implements a per-client fixed-window request counter.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	// RetryAfter is the time left in the current window, measured on the
	// limiter's clock. It is set only when the request was rejected.
	RetryAfter time.Duration
}

type window struct {
	start time.Time
	count int
}

// FixedWindow admits at most Limit requests per key in every Window. The
// lock is held only while counters are read or written.
type FixedWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	counters  map[string]*window
	lastPrune time.Time
}

func NewFixedWindow(limit int, period time.Duration) *FixedWindow {
	if limit <= 0 {
		limit = 100
	}
	if period <= 0 {
		period = 15 * time.Minute
	}
	return &FixedWindow{
		limit:    limit,
		window:   period,
		now:      time.Now,
		counters: make(map[string]*window),
	}
}

// WithClock makes the limiter read time from now.
func (l *FixedWindow) WithClock(now func() time.Time) *FixedWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

func (l *FixedWindow) Allow(key string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)

	w, ok := l.counters[key]
	if !ok || now.Sub(w.start) >= l.window {
		w = &window{start: now}
		l.counters[key] = w
	}

	d := Decision{
		Limit:   l.limit,
		ResetAt: w.start.Add(l.window),
	}
	if w.count >= l.limit {
		d.RetryAfter = d.ResetAt.Sub(now)
		return d
	}
	w.count++
	d.Allowed = true
	d.Remaining = l.limit - w.count
	return d
}

// pruneLocked drops counters whose window has closed, at most once per window.
func (l *FixedWindow) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < l.window {
		return
	}
	l.lastPrune = now
	for key, w := range l.counters {
		if now.Sub(w.start) >= l.window {
			delete(l.counters, key)
		}
	}
}

// Len reports how many keys are currently tracked.
func (l *FixedWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}
