// Package ratelimit implements a fixed-window per-key rate limiter.
// Windows reset lazily: the first check after a window's deadline starts
// a fresh window, so no timer is needed for correctness. A periodic
// sweep drops stale entries to bound memory.
package ratelimit

import (
	"sync"
	"time"
)

// Window is the fixed rate-limit window.
const Window = time.Minute

type entry struct {
	count   int
	resetAt time.Time
}

// Result describes the outcome of a single check.
type Result struct {
	Allowed   bool
	Remaining int
	// Reset is how long until the current window expires.
	Reset time.Duration
}

// RetryAfterSeconds is Reset rounded up to whole seconds, suitable for
// a Retry-After header.
func (r Result) RetryAfterSeconds() int {
	secs := int((r.Reset + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter counts requests per key within fixed windows.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	max     int

	now func() time.Time
}

// New returns a limiter allowing max requests per key per window.
func New(max int) *Limiter {
	return &Limiter{
		entries: make(map[string]*entry),
		max:     max,
		now:     time.Now,
	}
}

// Check records one request for key and reports whether it is allowed.
func (l *Limiter) Check(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = &entry{count: 1, resetAt: now.Add(Window)}
		l.entries[key] = e
		return Result{Allowed: true, Remaining: l.max - 1, Reset: e.resetAt.Sub(now)}
	}

	if e.count >= l.max {
		return Result{Allowed: false, Remaining: 0, Reset: e.resetAt.Sub(now)}
	}
	e.count++
	return Result{Allowed: true, Remaining: l.max - e.count, Reset: e.resetAt.Sub(now)}
}

// Sweep removes entries whose window has expired. Call periodically to
// keep memory bounded.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, e := range l.entries {
		if !now.Before(e.resetAt) {
			delete(l.entries, key)
		}
	}
}
