// Package ratelimit counts requests per client in fixed time windows.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether a request from key fits in its current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long the client should wait before the window resets.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.IsZero() || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

func decide(count int64, limit int, resetAt time.Time) Decision {
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
