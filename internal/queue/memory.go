package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultVisibilityTimeout = 2 * time.Minute
	defaultRetention         = 24 * time.Hour
)

type lease struct {
	token   string
	expires time.Time
}

// MemoryBroker keeps jobs in process. Jobs do not survive a restart; use it
// for tests and single-process development.
type MemoryBroker struct {
	mu         sync.Mutex
	jobs       map[string]*Job
	pending    []string
	delayed    map[string]time.Time
	leases     map[string]lease
	dead       []string
	completed  map[string]time.Time
	visibility time.Duration
	retention  time.Duration
	signal     chan struct{}
	now        func() time.Time
}

// MemoryOption configures a MemoryBroker.
type MemoryOption func(*MemoryBroker)

// WithMemoryVisibilityTimeout sets how long a lease hides a job.
func WithMemoryVisibilityTimeout(d time.Duration) MemoryOption {
	return func(b *MemoryBroker) {
		if d > 0 {
			b.visibility = d
		}
	}
}

// WithMemoryRetention sets how long completed jobs remain inspectable.
func WithMemoryRetention(d time.Duration) MemoryOption {
	return func(b *MemoryBroker) {
		if d > 0 {
			b.retention = d
		}
	}
}

// NewMemoryBroker returns an empty in-process broker.
func NewMemoryBroker(opts ...MemoryOption) *MemoryBroker {
	b := &MemoryBroker{
		jobs:       make(map[string]*Job),
		delayed:    make(map[string]time.Time),
		leases:     make(map[string]lease),
		completed:  make(map[string]time.Time),
		visibility: defaultVisibilityTimeout,
		retention:  defaultRetention,
		signal:     make(chan struct{}, 1),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MemoryBroker) Enqueue(ctx context.Context, job *Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if err := job.prepare(b.now()); err != nil {
		b.mu.Unlock()
		return err
	}
	b.jobs[job.ID] = job.Clone()
	b.pending = append(b.pending, job.ID)
	b.mu.Unlock()
	b.wake()
	return nil
}

func (b *MemoryBroker) wake() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *MemoryBroker) Lease(ctx context.Context, wait time.Duration) (*Job, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		if job := b.tryLease(); job != nil {
			return job, nil
		}
		// Delayed jobs and expired leases become due without a signal, so poll.
		poll := time.NewTimer(50 * time.Millisecond)
		select {
		case <-ctx.Done():
			poll.Stop()
			return nil, ctx.Err()
		case <-deadline.C:
			poll.Stop()
			return b.tryLease(), nil
		case <-b.signal:
			poll.Stop()
		case <-poll.C:
		}
	}
}

func (b *MemoryBroker) tryLease() *Job {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.promoteLocked(now)
	if len(b.pending) == 0 {
		return nil
	}
	id := b.pending[0]
	b.pending = b.pending[1:]

	job := b.jobs[id]
	job.Attempts++
	job.State = StateActive
	job.UpdatedAt = now.UTC()
	token := uuid.NewString()
	b.leases[id] = lease{token: token, expires: now.Add(b.visibility)}

	out := job.Clone()
	out.LeaseToken = token
	return out
}

// promoteLocked makes due delayed jobs and expired leases pending again.
func (b *MemoryBroker) promoteLocked(now time.Time) {
	var due []string
	for id, at := range b.delayed {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	for id, l := range b.leases {
		if !l.expires.After(now) {
			due = append(due, id)
			delete(b.leases, id)
		}
	}
	sort.Strings(due)
	for _, id := range due {
		delete(b.delayed, id)
		if job, ok := b.jobs[id]; ok {
			job.State = StatePending
			b.pending = append(b.pending, id)
		}
	}
}

func (b *MemoryBroker) settle(job *Job, apply func(stored *Job, now time.Time)) error {
	if job == nil {
		return ErrJobNotFound
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, ok := b.jobs[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	l, ok := b.leases[job.ID]
	if !ok || l.token != job.LeaseToken {
		return ErrLeaseLost
	}
	delete(b.leases, job.ID)
	now := b.now()
	stored.UpdatedAt = now.UTC()
	apply(stored, now)
	job.State = stored.State
	job.LastError = stored.LastError
	return nil
}

func (b *MemoryBroker) Complete(ctx context.Context, job *Job) error {
	err := b.settle(job, func(stored *Job, now time.Time) {
		stored.State = StateCompleted
		b.completed[stored.ID] = now
		b.pruneLocked(now)
	})
	return err
}

func (b *MemoryBroker) Retry(ctx context.Context, job *Job, delay time.Duration, cause error) error {
	return b.settle(job, func(stored *Job, now time.Time) {
		stored.State = StateFailed
		stored.LastError = errorText(cause)
		b.delayed[stored.ID] = now.Add(delay)
	})
}

func (b *MemoryBroker) Dead(ctx context.Context, job *Job, cause error) error {
	return b.settle(job, func(stored *Job, now time.Time) {
		stored.State = StateDead
		stored.LastError = errorText(cause)
		b.dead = append([]string{stored.ID}, b.dead...)
	})
}

func (b *MemoryBroker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.retention)
	for id, at := range b.completed {
		if at.Before(cutoff) {
			delete(b.completed, id)
			delete(b.jobs, id)
		}
	}
}

func (b *MemoryBroker) Get(ctx context.Context, id string) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// ListDead returns dead jobs, most recently parked first.
func (b *MemoryBroker) ListDead(ctx context.Context, limit int) ([]*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.dead) {
		limit = len(b.dead)
	}
	out := make([]*Job, 0, limit)
	for _, id := range b.dead[:limit] {
		out = append(out, b.jobs[id].Clone())
	}
	return out, nil
}

// Requeue moves a dead job back to pending with a fresh attempt budget.
func (b *MemoryBroker) Requeue(ctx context.Context, id string) (*Job, error) {
	b.mu.Lock()
	job, ok := b.jobs[id]
	if !ok {
		b.mu.Unlock()
		return nil, ErrJobNotFound
	}
	if job.State != StateDead {
		b.mu.Unlock()
		return nil, ErrNotDead
	}
	for i, deadID := range b.dead {
		if deadID == id {
			b.dead = append(b.dead[:i], b.dead[i+1:]...)
			break
		}
	}
	job.State = StatePending
	job.Attempts = 0
	job.UpdatedAt = b.now().UTC()
	b.pending = append(b.pending, id)
	out := job.Clone()
	b.mu.Unlock()
	b.wake()
	return out, nil
}

func (b *MemoryBroker) Stats(ctx context.Context) (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var s Stats
	for _, job := range b.jobs {
		switch job.State {
		case StatePending:
			s.Pending++
		case StateActive:
			s.Active++
		case StateFailed:
			s.Failed++
		case StateDead:
			s.Dead++
		case StateCompleted:
			s.Completed++
		}
	}
	return s, nil
}
