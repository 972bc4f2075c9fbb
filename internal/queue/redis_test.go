package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisBroker(t *testing.T, opts ...RedisOption) (*RedisBroker, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	clock := newFakeClock()
	b := NewRedisBroker(client, "test:notifications:", opts...)
	b.now = clock.Now
	return b, mr, clock
}

func TestRedisBrokerLifecycle(t *testing.T) {
	b, mr, _ := newTestRedisBroker(t)
	ctx := context.Background()

	job := testJob()
	if err := b.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !mr.Exists("test:notifications:pending") {
		t.Fatal("expected prefixed pending list")
	}

	leased, err := b.Lease(ctx, 0)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if leased == nil || leased.ID != job.ID {
		t.Fatalf("expected %s, got %+v", job.ID, leased)
	}
	if leased.Attempts != 1 || leased.Data["name"] != "Jane" || leased.LeaseToken == "" {
		t.Fatalf("unexpected leased job %+v", leased)
	}

	stats, _ := b.Stats(ctx)
	if stats.Active != 1 {
		t.Fatalf("expected one active job, got %+v", stats)
	}

	if err := b.Complete(ctx, leased); err != nil {
		t.Fatalf("complete: %v", err)
	}
	stored, err := b.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.State != StateCompleted || stored.Attempts != 1 {
		t.Fatalf("unexpected stored job %+v", stored)
	}
	if err := b.Complete(ctx, leased); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost on double settle, got %v", err)
	}
}

func TestRedisBrokerEmptyLease(t *testing.T) {
	b, _, _ := newTestRedisBroker(t)
	job, err := b.Lease(context.Background(), 0)
	if err != nil || job != nil {
		t.Fatalf("expected nil, nil, got %+v, %v", job, err)
	}
}

func TestRedisBrokerReclaimsExpiredLease(t *testing.T) {
	b, _, clock := newTestRedisBroker(t, WithRedisVisibilityTimeout(time.Minute))
	ctx := context.Background()

	_ = b.Enqueue(ctx, testJob())
	first, _ := b.Lease(ctx, 0)
	if first == nil {
		t.Fatal("expected a job")
	}
	if again, _ := b.Lease(ctx, 0); again != nil {
		t.Fatal("leased job must stay hidden until the timeout")
	}

	clock.Advance(time.Minute + time.Second)
	second, err := b.Lease(ctx, 0)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if second == nil || second.ID != first.ID || second.Attempts != 2 {
		t.Fatalf("expected reclaimed job on attempt 2, got %+v", second)
	}
	if err := b.Retry(ctx, first, time.Second, errors.New("late")); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("stale holder should lose the lease, got %v", err)
	}
}

func TestRedisBrokerRetryAndDead(t *testing.T) {
	b, _, clock := newTestRedisBroker(t)
	ctx := context.Background()

	_ = b.Enqueue(ctx, testJob())
	job, _ := b.Lease(ctx, 0)
	if err := b.Retry(ctx, job, 30*time.Second, errors.New("503 from provider")); err != nil {
		t.Fatalf("retry: %v", err)
	}
	stored, _ := b.Get(ctx, job.ID)
	if stored.State != StateFailed || stored.LastError != "503 from provider" {
		t.Fatalf("unexpected stored job %+v", stored)
	}
	if got, _ := b.Lease(ctx, 0); got != nil {
		t.Fatal("retry should wait for its delay")
	}

	clock.Advance(31 * time.Second)
	job, _ = b.Lease(ctx, 0)
	if job == nil || job.Attempts != 2 {
		t.Fatalf("expected second attempt, got %+v", job)
	}
	if err := b.Dead(ctx, job, errors.New("invalid recipient")); err != nil {
		t.Fatalf("dead: %v", err)
	}

	dead, err := b.ListDead(ctx, 10)
	if err != nil {
		t.Fatalf("list dead: %v", err)
	}
	if len(dead) != 1 || dead[0].State != StateDead || dead[0].LastError != "invalid recipient" {
		t.Fatalf("unexpected dead jobs %+v", dead)
	}

	requeued, err := b.Requeue(ctx, job.ID)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued.State != StatePending || requeued.Attempts != 0 {
		t.Fatalf("unexpected requeued job %+v", requeued)
	}
	if dead, _ := b.ListDead(ctx, 10); len(dead) != 0 {
		t.Fatalf("dead list should be empty, got %d", len(dead))
	}
	if _, err := b.Requeue(ctx, job.ID); !errors.Is(err, ErrNotDead) {
		t.Fatalf("expected ErrNotDead, got %v", err)
	}
	if _, err := b.Requeue(ctx, "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	again, _ := b.Lease(ctx, 0)
	if again == nil || again.Attempts != 1 {
		t.Fatalf("expected fresh attempt after requeue, got %+v", again)
	}
}

func TestRedisBrokerPrunesCompletedJobs(t *testing.T) {
	b, _, clock := newTestRedisBroker(t, WithRedisRetention(time.Hour))
	ctx := context.Background()

	old := testJob()
	_ = b.Enqueue(ctx, old)
	leased, _ := b.Lease(ctx, 0)
	_ = b.Complete(ctx, leased)

	clock.Advance(2 * time.Hour)
	fresh := testJob()
	_ = b.Enqueue(ctx, fresh)
	leased, _ = b.Lease(ctx, 0)
	_ = b.Complete(ctx, leased)

	if _, err := b.Get(ctx, old.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected old job pruned, got %v", err)
	}
	if _, err := b.Get(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh job should remain: %v", err)
	}
}

func TestRedisBrokerJobsSurviveNewBrokerInstance(t *testing.T) {
	b, mr, _ := newTestRedisBroker(t)
	ctx := context.Background()
	job := testJob()
	_ = b.Enqueue(ctx, job)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	restarted := NewRedisBroker(client, "test:notifications")
	got, err := restarted.Lease(ctx, 0)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if got == nil || got.ID != job.ID {
		t.Fatalf("expected the queued job after restart, got %+v", got)
	}
}
