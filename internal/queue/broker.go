package queue

import (
	"context"
	"time"
)

// Broker owns job state and leasing. A leased job stays invisible to other
// consumers until it is settled or its visibility timeout passes, after
// which the broker hands it out again.
type Broker interface {
	// Enqueue accepts a job for delivery and returns without waiting for it.
	Enqueue(ctx context.Context, job *Job) error
	// Lease moves the next pending job to active and increments its attempt
	// count. It returns nil, nil when nothing arrives within wait.
	Lease(ctx context.Context, wait time.Duration) (*Job, error)
	// Complete marks an active job delivered.
	Complete(ctx context.Context, job *Job) error
	// Retry marks an active job failed and makes it pending again after delay.
	Retry(ctx context.Context, job *Job, delay time.Duration, cause error) error
	// Dead parks an active job for operator follow-up.
	Dead(ctx context.Context, job *Job, cause error) error
}

// Inspector exposes job state to operators.
type Inspector interface {
	Get(ctx context.Context, id string) (*Job, error)
	ListDead(ctx context.Context, limit int) ([]*Job, error)
	Requeue(ctx context.Context, id string) (*Job, error)
	Stats(ctx context.Context) (Stats, error)
}

// Stats counts jobs by state.
type Stats struct {
	Pending   int64 `json:"pending"`
	Active    int64 `json:"active"`
	Failed    int64 `json:"failed"`
	Dead      int64 `json:"dead"`
	Completed int64 `json:"completed"`
}

// Backoff computes exponential retry delays.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff doubles from 30 seconds up to 30 minutes.
func DefaultBackoff() Backoff {
	return Backoff{Base: 30 * time.Second, Max: 30 * time.Minute}
}

// Delay returns the wait before the next attempt after attempt failures:
// Base, 2*Base, 4*Base and so on, capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}
