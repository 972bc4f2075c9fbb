package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps per-key windows in process memory. Counters are not
// shared between instances; use RedisLimiter when running more than one.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time
}

type window struct {
	count   int64
	resetAt time.Time
}

// NewMemoryLimiter allows limit requests per key in each period.
func NewMemoryLimiter(limit int, period time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
}

// Allow increments the counter for key and compares it against the limit
// under a single lock, so concurrent requests are never undercounted.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.period)}
		l.windows[key] = w
	}
	w.count++
	return decide(w.count, l.limit, w.resetAt), nil
}

// Cleanup drops windows that have already elapsed.
func (l *MemoryLimiter) Cleanup() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

// Len reports the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// StartJanitor evicts elapsed windows every interval until ctx is done.
func (l *MemoryLimiter) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = l.period
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}
