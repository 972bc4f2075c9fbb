package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testJob() *Job {
	return &Job{
		TemplateKey: "admin-notice",
		To:          "owner@agency.example",
		LeadID:      "lead-1",
		Data:        map[string]string{"name": "Jane"},
	}
}

func TestMemoryBrokerLeaseAndComplete(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	job := testJob()
	if err := b.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.ID == "" || job.State != StatePending || job.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("enqueue did not stamp job: %+v", job)
	}

	leased, err := b.Lease(ctx, time.Second)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if leased == nil || leased.ID != job.ID {
		t.Fatalf("expected job %s, got %+v", job.ID, leased)
	}
	if leased.Attempts != 1 || leased.State != StateActive || leased.LeaseToken == "" {
		t.Fatalf("unexpected leased job %+v", leased)
	}

	if err := b.Complete(ctx, leased); err != nil {
		t.Fatalf("complete: %v", err)
	}
	stored, _ := b.Get(ctx, job.ID)
	if stored.State != StateCompleted {
		t.Fatalf("expected completed, got %s", stored.State)
	}
	if err := b.Complete(ctx, leased); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("second settle should lose the lease, got %v", err)
	}
}

func TestMemoryBrokerLeaseTimesOutEmpty(t *testing.T) {
	b := NewMemoryBroker()
	job, err := b.Lease(context.Background(), 20*time.Millisecond)
	if err != nil || job != nil {
		t.Fatalf("expected nil, nil on empty queue, got %+v, %v", job, err)
	}
}

func TestMemoryBrokerLeaseHonoursContext(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Lease(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryBrokerFIFO(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		job := testJob()
		_ = b.Enqueue(ctx, job)
		ids = append(ids, job.ID)
	}
	for _, want := range ids {
		got, _ := b.Lease(ctx, 0)
		if got == nil || got.ID != want {
			t.Fatalf("expected %s, got %+v", want, got)
		}
	}
}

func TestMemoryBrokerReclaimsExpiredLease(t *testing.T) {
	clock := newFakeClock()
	b := NewMemoryBroker(WithMemoryVisibilityTimeout(time.Minute))
	b.now = clock.Now
	ctx := context.Background()

	_ = b.Enqueue(ctx, testJob())
	first, _ := b.Lease(ctx, 0)
	if first == nil {
		t.Fatal("expected a job")
	}
	if again, _ := b.Lease(ctx, 0); again != nil {
		t.Fatal("leased job must stay invisible before the timeout")
	}

	clock.Advance(time.Minute)
	second, _ := b.Lease(ctx, 0)
	if second == nil || second.ID != first.ID {
		t.Fatalf("expected the expired job back, got %+v", second)
	}
	if second.Attempts != 2 {
		t.Fatalf("expected attempt 2, got %d", second.Attempts)
	}
	if err := b.Complete(ctx, first); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("stale holder should lose the lease, got %v", err)
	}
	if err := b.Complete(ctx, second); err != nil {
		t.Fatalf("current holder should settle: %v", err)
	}
}

func TestMemoryBrokerRetryWaitsForDelay(t *testing.T) {
	clock := newFakeClock()
	b := NewMemoryBroker()
	b.now = clock.Now
	ctx := context.Background()

	_ = b.Enqueue(ctx, testJob())
	job, _ := b.Lease(ctx, 0)
	if err := b.Retry(ctx, job, 30*time.Second, errors.New("smtp timeout")); err != nil {
		t.Fatalf("retry: %v", err)
	}
	stored, _ := b.Get(ctx, job.ID)
	if stored.State != StateFailed || stored.LastError != "smtp timeout" {
		t.Fatalf("unexpected stored job %+v", stored)
	}

	if got, _ := b.Lease(ctx, 0); got != nil {
		t.Fatal("job should not be visible before its delay")
	}
	clock.Advance(30 * time.Second)
	got, _ := b.Lease(ctx, 0)
	if got == nil || got.Attempts != 2 {
		t.Fatalf("expected second attempt, got %+v", got)
	}
}

func TestMemoryBrokerDeadAndRequeue(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	_ = b.Enqueue(ctx, testJob())
	job, _ := b.Lease(ctx, 0)
	if err := b.Dead(ctx, job, errors.New("mailbox does not exist")); err != nil {
		t.Fatalf("dead: %v", err)
	}

	dead, _ := b.ListDead(ctx, 10)
	if len(dead) != 1 || dead[0].ID != job.ID || dead[0].LastError != "mailbox does not exist" {
		t.Fatalf("unexpected dead list %+v", dead)
	}
	stats, _ := b.Stats(ctx)
	if stats.Dead != 1 {
		t.Fatalf("expected one dead job, got %+v", stats)
	}

	requeued, err := b.Requeue(ctx, job.ID)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued.State != StatePending || requeued.Attempts != 0 {
		t.Fatalf("unexpected requeued job %+v", requeued)
	}
	if _, err := b.Requeue(ctx, job.ID); !errors.Is(err, ErrNotDead) {
		t.Fatalf("expected ErrNotDead, got %v", err)
	}
	if _, err := b.Requeue(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	again, _ := b.Lease(ctx, 0)
	if again == nil || again.Attempts != 1 {
		t.Fatalf("expected fresh attempt budget, got %+v", again)
	}
}

func TestMemoryBrokerPrunesCompletedJobs(t *testing.T) {
	clock := newFakeClock()
	b := NewMemoryBroker(WithMemoryRetention(time.Hour))
	b.now = clock.Now
	ctx := context.Background()

	old := testJob()
	_ = b.Enqueue(ctx, old)
	leased, _ := b.Lease(ctx, 0)
	_ = b.Complete(ctx, leased)

	clock.Advance(2 * time.Hour)
	_ = b.Enqueue(ctx, testJob())
	fresh, _ := b.Lease(ctx, 0)
	_ = b.Complete(ctx, fresh)

	if _, err := b.Get(ctx, old.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected old completed job pruned, got %v", err)
	}
	if _, err := b.Get(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh job should remain: %v", err)
	}
}

func TestEnqueueRejectsIncompleteJobs(t *testing.T) {
	b := NewMemoryBroker()
	if err := b.Enqueue(context.Background(), &Job{To: "x@example.com"}); err == nil {
		t.Fatal("expected error for missing template")
	}
	if err := b.Enqueue(context.Background(), &Job{TemplateKey: "admin-notice"}); err == nil {
		t.Fatal("expected error for missing recipient")
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
	if got := (Backoff{}).Delay(3); got != 0 {
		t.Fatalf("zero backoff should not delay, got %s", got)
	}
}
