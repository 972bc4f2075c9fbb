package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func TestMemoryLimiterRejectsAfterMax(t *testing.T) {
	limiter := NewMemoryLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		dec, err := limiter.Allow(ctx, "10.0.0.1")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !dec.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if dec.Remaining != 3-i {
			t.Fatalf("request %d: expected remaining %d, got %d", i, 3-i, dec.Remaining)
		}
	}

	dec, _ := limiter.Allow(ctx, "10.0.0.1")
	if dec.Allowed {
		t.Fatal("4th request in the window should be rejected")
	}
	if dec.Remaining != 0 {
		t.Fatalf("expected 0 remaining, got %d", dec.Remaining)
	}

	other, _ := limiter.Allow(ctx, "10.0.0.2")
	if !other.Allowed {
		t.Fatal("a different client should not share the budget")
	}
}

func TestMemoryLimiterWindowResets(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	limiter := NewMemoryLimiter(1, time.Minute)
	limiter.now = clock.Now
	ctx := context.Background()

	if dec, _ := limiter.Allow(ctx, "ip"); !dec.Allowed {
		t.Fatal("first request should pass")
	}
	dec, _ := limiter.Allow(ctx, "ip")
	if dec.Allowed {
		t.Fatal("second request should be limited")
	}
	if got := dec.RetryAfter(clock.Now()); got != time.Minute {
		t.Fatalf("expected retry after 1m, got %s", got)
	}

	clock.Advance(time.Minute)
	if dec, _ := limiter.Allow(ctx, "ip"); !dec.Allowed {
		t.Fatal("request after the window elapsed should pass")
	}
}

func TestMemoryLimiterCleanupEvictsElapsedWindows(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	limiter := NewMemoryLimiter(10, time.Minute)
	limiter.now = clock.Now
	ctx := context.Background()

	_, _ = limiter.Allow(ctx, "a")
	_, _ = limiter.Allow(ctx, "b")
	clock.Advance(30 * time.Second)
	_, _ = limiter.Allow(ctx, "c")
	clock.Advance(31 * time.Second)

	limiter.Cleanup()
	if limiter.Len() != 1 {
		t.Fatalf("expected only the newest window to survive, got %d", limiter.Len())
	}
}

func TestMemoryLimiterConcurrentRequestsAreCountedExactly(t *testing.T) {
	const limit = 50
	limiter := NewMemoryLimiter(limit, time.Hour)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, _ := limiter.Allow(ctx, "burst")
			if dec.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Fatalf("expected exactly %d allowed, got %d", limit, allowed)
	}
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewRedisLimiter(client, "rl:", 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		dec, err := limiter.Allow(ctx, "203.0.113.9")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !dec.Allowed {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	dec, err := limiter.Allow(ctx, "203.0.113.9")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if dec.Allowed {
		t.Fatal("third request should be limited")
	}
	if dec.ResetAt.IsZero() {
		t.Fatal("expected reset time")
	}

	if ttl := mr.TTL("rl:203.0.113.9"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected counter to carry a ttl, got %s", ttl)
	}

	if dec, _ := limiter.Allow(ctx, "198.51.100.1"); !dec.Allowed {
		t.Fatal("different client should pass")
	}

	mr.FastForward(time.Minute + time.Second)
	if dec, _ := limiter.Allow(ctx, "203.0.113.9"); !dec.Allowed {
		t.Fatal("expected window reset after expiry")
	}
}

func TestRedisLimiterReportsStoreErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewRedisLimiter(client, "", 1, time.Minute)
	mr.Close()

	if _, err := limiter.Allow(context.Background(), "ip"); err == nil {
		t.Fatal("expected error when redis is unavailable")
	}
}
