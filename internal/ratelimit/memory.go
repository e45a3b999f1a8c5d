package ratelimit

import (
	"context"
	"sync"
	"time"

	"marketplace-auth/internal/models"
)

// MemoryLimiter keeps windows in process memory. Counters do not survive a
// restart and are not shared between instances; use the Redis limiter for that.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]models.RateLimitWindow
	now     func() time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

type MemoryOption func(*MemoryLimiter)

func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryLimiter) { m.now = now }
}

func NewMemoryLimiter(opts ...MemoryOption) *MemoryLimiter {
	m := &MemoryLimiter{
		windows: make(map[string]models.RateLimitWindow),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryLimiter) Allow(ctx context.Context, key string, policy Policy) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep(now)

	w, ok := m.windows[key]
	if !ok || w.Expired(now) {
		w = models.RateLimitWindow{Count: 0, ResetAt: now.Add(policy.Window)}
	}

	if w.Count >= policy.Max {
		m.windows[key] = w
		return Decision{
			Allowed:    false,
			Limit:      policy.Max,
			Remaining:  0,
			ResetAt:    w.ResetAt,
			RetryAfter: w.ResetAt.Sub(now),
		}, nil
	}

	w.Count++
	m.windows[key] = w
	return Decision{
		Allowed:   true,
		Limit:     policy.Max,
		Remaining: policy.Max - w.Count,
		ResetAt:   w.ResetAt,
	}, nil
}

// sweep drops every expired window. Caller holds mu.
func (m *MemoryLimiter) sweep(now time.Time) {
	for k, w := range m.windows {
		if w.Expired(now) {
			delete(m.windows, k)
		}
	}
}

// Reset forgets the window for key.
func (m *MemoryLimiter) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, key)
}

// Len reports the number of tracked windows.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
