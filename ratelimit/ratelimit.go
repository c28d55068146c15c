// Package ratelimit implements the sliding-window limiters guarding the
// broker: per-user message and chunk budgets, and a per-IP connection
// limiter that escalates repeat offenders to a temporary ban.
package ratelimit

import (
	"sync"
	"time"
)

// Default windows for the per-user limiters.
const (
	DefaultMaxMessages = 30
	DefaultMaxChunks   = 100
	DefaultWindow      = 10 * time.Second
)

// Limiter admits at most max events per identity within a sliding window.
// Rejected events are not recorded, so a client that backs off recovers as
// soon as the oldest admitted event leaves the window.
type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	events map[string][]time.Time
	now    func() time.Time
}

// NewLimiter builds a limiter allowing max events per window per identity.
// Non-positive arguments fall back to the message defaults.
func NewLimiter(max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = DefaultMaxMessages
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		max:    max,
		window: window,
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records one event for id if the window has room and reports whether
// it was admitted.
func (l *Limiter) Allow(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	kept := l.pruneLocked(id, now)
	if len(kept) >= l.max {
		return false
	}
	l.events[id] = append(kept, now)
	return true
}

// RetryAfter returns how long id must wait before the next Allow can
// succeed. Zero means it would succeed immediately.
func (l *Limiter) RetryAfter(id string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	kept := l.pruneLocked(id, now)
	if len(kept) < l.max {
		return 0
	}
	wait := kept[0].Add(l.window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// pruneLocked drops events of id that left the window and returns the rest.
func (l *Limiter) pruneLocked(id string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	evs := l.events[id]
	i := 0
	for i < len(evs) && !evs[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return evs
	}
	kept := evs[i:]
	if len(kept) == 0 {
		delete(l.events, id)
	} else {
		l.events[id] = kept
	}
	return kept
}

// Forget drops all state for id, e.g. when its session ends.
func (l *Limiter) Forget(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.events, id)
}

// Cleanup removes identities whose newest event is older than maxIdle and
// returns how many were dropped. The broker runs this on a background timer
// so buckets for departed identities do not accumulate.
func (l *Limiter) Cleanup(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-maxIdle)
	removed := 0
	for id, evs := range l.events {
		if len(evs) == 0 || evs[len(evs)-1].Before(cutoff) {
			delete(l.events, id)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of identities currently holding events.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *Limiter) tracks(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.events[id]
	return ok
}
