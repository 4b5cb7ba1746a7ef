package cache

import (
	"sync"
	"time"
)

// RateLimitWindow is the write count within the current fixed window.
type RateLimitWindow struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

// writeLimiter admits at most budget writes per window.
type writeLimiter struct {
	mu     sync.Mutex
	state  RateLimitWindow
	budget int
	span   time.Duration
}

func newWriteLimiter(budget int, span time.Duration) *writeLimiter {
	return &writeLimiter{budget: budget, span: span}
}

// roll starts a new window when the current one has elapsed. Caller holds mu.
func (l *writeLimiter) roll(now time.Time) {
	if l.state.WindowStart.IsZero() || now.Sub(l.state.WindowStart) >= l.span {
		l.state = RateLimitWindow{WindowStart: now}
	}
}

// allow records a write and reports whether it fits the budget.
func (l *writeLimiter) allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(now)
	if l.state.Count >= l.budget {
		return false
	}
	l.state.Count++
	return true
}

// exhausted reports whether further writes in this window would be dropped.
func (l *writeLimiter) exhausted(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(now)
	return l.state.Count >= l.budget
}

func (l *writeLimiter) snapshot() RateLimitWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
