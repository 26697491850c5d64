package chat

import (
	"sync"
	"time"
)

// EventLimiter bounds how many protocol events one connection may submit
// inside a sliding window. The gateway sizes it from CHATD_WS_RATE_EVENTS
// and CHATD_WS_RATE_WINDOW.
//
// Admitted timestamps live in a fixed ring ordered oldest-first from head,
// so expiry walks forward from head and admission never allocates.
type EventLimiter struct {
	mu     sync.Mutex
	window time.Duration
	ring   []time.Time
	head   int
	n      int
}

// NewEventLimiter falls back to the package defaults when limit or window is
// not positive.
func NewEventLimiter(limit int, window time.Duration) *EventLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &EventLimiter{
		window: window,
		ring:   make([]time.Time, limit),
	}
}

// Allow admits an event at time now unless the window is at capacity.
func (l *EventLimiter) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cut := now.Add(-l.window)
	for l.n > 0 && !l.ring[l.head].After(cut) {
		l.head = (l.head + 1) % len(l.ring)
		l.n--
	}

	if l.n == len(l.ring) {
		return false
	}
	l.ring[(l.head+l.n)%len(l.ring)] = now
	l.n++
	return true
}
