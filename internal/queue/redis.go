package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// leaseScript promotes due retries, reclaims expired leases and then takes
// the oldest pending job in a single step.
//
// KEYS: pending, leases, delayed, state, attempts, owner, updated
// ARGV: now_ms, visibility_ms, token
var leaseScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local due = redis.call("ZRANGEBYSCORE", KEYS[3], "-inf", now)
for _, id in ipairs(due) do
  redis.call("ZREM", KEYS[3], id)
  redis.call("HSET", KEYS[4], id, "pending")
  redis.call("LPUSH", KEYS[1], id)
end
local expired = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", now)
for _, id in ipairs(expired) do
  redis.call("ZREM", KEYS[2], id)
  redis.call("HDEL", KEYS[6], id)
  redis.call("HSET", KEYS[4], id, "pending")
  redis.call("RPUSH", KEYS[1], id)
end
local id = redis.call("RPOP", KEYS[1])
if not id then
  return false
end
redis.call("ZADD", KEYS[2], now + tonumber(ARGV[2]), id)
redis.call("HSET", KEYS[6], id, ARGV[3])
redis.call("HSET", KEYS[4], id, "active")
redis.call("HSET", KEYS[7], id, ARGV[1])
local attempts = redis.call("HINCRBY", KEYS[5], id, 1)
return {id, attempts}
`)

// settleScript moves an active job to its next state if the caller still
// owns the lease. Completing a job also prunes expired completed jobs.
//
// KEYS: leases, owner, state, updated, errors, completed, delayed, dead, jobs, attempts
// ARGV: id, token, target, now_ms, error, due_ms, cutoff_ms
var settleScript = redis.NewScript(`
local id = ARGV[1]
if redis.call("HGET", KEYS[2], id) ~= ARGV[2] then
  return 0
end
redis.call("ZREM", KEYS[1], id)
redis.call("HDEL", KEYS[2], id)
redis.call("HSET", KEYS[3], id, ARGV[3])
redis.call("HSET", KEYS[4], id, ARGV[4])
if ARGV[5] ~= "" then
  redis.call("HSET", KEYS[5], id, ARGV[5])
end
if ARGV[3] == "completed" then
  redis.call("ZADD", KEYS[6], ARGV[4], id)
  local old = redis.call("ZRANGEBYSCORE", KEYS[6], "-inf", ARGV[7], "LIMIT", 0, 100)
  for _, oid in ipairs(old) do
    redis.call("ZREM", KEYS[6], oid)
    redis.call("HDEL", KEYS[9], oid)
    redis.call("HDEL", KEYS[3], oid)
    redis.call("HDEL", KEYS[10], oid)
    redis.call("HDEL", KEYS[5], oid)
    redis.call("HDEL", KEYS[4], oid)
  end
elseif ARGV[3] == "failed" then
  redis.call("ZADD", KEYS[7], ARGV[6], id)
elseif ARGV[3] == "dead" then
  redis.call("LPUSH", KEYS[8], id)
end
return 1
`)

// requeueScript returns a dead job to the pending list.
//
// KEYS: state, dead, attempts, pending, updated
// ARGV: id, now_ms
var requeueScript = redis.NewScript(`
local state = redis.call("HGET", KEYS[1], ARGV[1])
if not state then
  return -1
end
if state ~= "dead" then
  return 0
end
redis.call("LREM", KEYS[2], 0, ARGV[1])
redis.call("HSET", KEYS[1], ARGV[1], "pending")
redis.call("HSET", KEYS[3], ARGV[1], 0)
redis.call("HSET", KEYS[5], ARGV[1], ARGV[2])
redis.call("LPUSH", KEYS[4], ARGV[1])
return 1
`)

// RedisBroker stores jobs in Redis so they survive process restarts and can
// be shared by several workers.
type RedisBroker struct {
	client       *redis.Client
	prefix       string
	visibility   time.Duration
	retention    time.Duration
	pollInterval time.Duration
	now          func() time.Time
	tracer       trace.Tracer
}

// RedisOption configures a RedisBroker.
type RedisOption func(*RedisBroker)

// WithRedisVisibilityTimeout sets how long a lease hides a job.
func WithRedisVisibilityTimeout(d time.Duration) RedisOption {
	return func(b *RedisBroker) {
		if d > 0 {
			b.visibility = d
		}
	}
}

// WithRedisRetention sets how long completed jobs remain inspectable.
func WithRedisRetention(d time.Duration) RedisOption {
	return func(b *RedisBroker) {
		if d > 0 {
			b.retention = d
		}
	}
}

// WithRedisPollInterval sets how often Lease checks an empty queue.
func WithRedisPollInterval(d time.Duration) RedisOption {
	return func(b *RedisBroker) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// NewRedisBroker creates a broker whose keys share prefix.
func NewRedisBroker(client *redis.Client, prefix string, opts ...RedisOption) *RedisBroker {
	if client == nil {
		panic("queue: redis client required")
	}
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = "notifications"
	}
	b := &RedisBroker{
		client:       client,
		prefix:       prefix,
		visibility:   defaultVisibilityTimeout,
		retention:    defaultRetention,
		pollInterval: 250 * time.Millisecond,
		now:          time.Now,
		tracer:       otel.Tracer("agency-leads.internal.queue"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBroker) key(name string) string {
	return b.prefix + ":" + name
}

func (b *RedisBroker) Enqueue(ctx context.Context, job *Job) error {
	ctx, span := b.tracer.Start(ctx, "queue.redis.enqueue")
	defer span.End()

	now := b.now()
	if err := job.prepare(now); err != nil {
		return err
	}
	span.SetAttributes(attribute.String("job.id", job.ID), attribute.String("job.template", job.TemplateKey))
	body, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.key("jobs"), job.ID, body)
		pipe.HSet(ctx, b.key("state"), job.ID, string(StatePending))
		pipe.HSet(ctx, b.key("attempts"), job.ID, 0)
		pipe.HSet(ctx, b.key("updated"), job.ID, now.UnixMilli())
		pipe.LPush(ctx, b.key("pending"), job.ID)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("queue: redis enqueue: %w", err)
	}
	return nil
}

func (b *RedisBroker) Lease(ctx context.Context, wait time.Duration) (*Job, error) {
	deadline := b.now().Add(wait)
	for {
		job, err := b.tryLease(ctx)
		if err != nil || job != nil {
			return job, err
		}
		remaining := deadline.Sub(b.now())
		if remaining <= 0 {
			return nil, nil
		}
		pause := b.pollInterval
		if remaining < pause {
			pause = remaining
		}
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (b *RedisBroker) tryLease(ctx context.Context) (*Job, error) {
	now := b.now()
	token := uuid.NewString()
	keys := []string{
		b.key("pending"), b.key("leases"), b.key("delayed"),
		b.key("state"), b.key("attempts"), b.key("owner"), b.key("updated"),
	}
	res, err := leaseScript.Run(ctx, b.client, keys, now.UnixMilli(), b.visibility.Milliseconds(), token).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: redis lease: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("queue: unexpected lease reply %v", res)
	}
	id, _ := res[0].(string)
	attempts, _ := res[1].(int64)

	ctx, span := b.tracer.Start(ctx, "queue.redis.lease")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", id), attribute.Int64("job.attempts", attempts))

	body, err := b.client.HGet(ctx, b.key("jobs"), id).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("queue: redis load job %s: %w", id, err)
	}
	job, err := decodeJob(body)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	job.Attempts = int(attempts)
	job.State = StateActive
	job.UpdatedAt = now.UTC()
	job.LeaseToken = token
	return job, nil
}

func (b *RedisBroker) settle(ctx context.Context, job *Job, target State, cause error, due time.Time) error {
	if job == nil {
		return ErrJobNotFound
	}
	ctx, span := b.tracer.Start(ctx, "queue.redis.settle")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", job.ID), attribute.String("job.state", string(target)))

	now := b.now()
	keys := []string{
		b.key("leases"), b.key("owner"), b.key("state"), b.key("updated"), b.key("errors"),
		b.key("completed"), b.key("delayed"), b.key("dead"), b.key("jobs"), b.key("attempts"),
	}
	res, err := settleScript.Run(ctx, b.client, keys,
		job.ID, job.LeaseToken, string(target), now.UnixMilli(), errorText(cause),
		due.UnixMilli(), now.Add(-b.retention).UnixMilli(),
	).Int()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("queue: redis settle %s: %w", job.ID, err)
	}
	if res == 0 {
		return ErrLeaseLost
	}
	job.State = target
	if cause != nil {
		job.LastError = errorText(cause)
	}
	job.UpdatedAt = now.UTC()
	return nil
}

func (b *RedisBroker) Complete(ctx context.Context, job *Job) error {
	return b.settle(ctx, job, StateCompleted, nil, time.Time{})
}

func (b *RedisBroker) Retry(ctx context.Context, job *Job, delay time.Duration, cause error) error {
	return b.settle(ctx, job, StateFailed, cause, b.now().Add(delay))
}

func (b *RedisBroker) Dead(ctx context.Context, job *Job, cause error) error {
	return b.settle(ctx, job, StateDead, cause, time.Time{})
}

func (b *RedisBroker) Get(ctx context.Context, id string) (*Job, error) {
	pipe := b.client.Pipeline()
	body := pipe.HGet(ctx, b.key("jobs"), id)
	state := pipe.HGet(ctx, b.key("state"), id)
	attempts := pipe.HGet(ctx, b.key("attempts"), id)
	lastErr := pipe.HGet(ctx, b.key("errors"), id)
	updated := pipe.HGet(ctx, b.key("updated"), id)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("queue: redis get %s: %w", id, err)
	}
	if errors.Is(body.Err(), redis.Nil) {
		return nil, ErrJobNotFound
	}
	job, err := decodeJob(body.Val())
	if err != nil {
		return nil, err
	}
	job.State = State(state.Val())
	if n, err := strconv.Atoi(attempts.Val()); err == nil {
		job.Attempts = n
	}
	job.LastError = lastErr.Val()
	if ms, err := strconv.ParseInt(updated.Val(), 10, 64); err == nil {
		job.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return job, nil
}

// ListDead returns dead jobs, most recently parked first.
func (b *RedisBroker) ListDead(ctx context.Context, limit int) ([]*Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := b.client.LRange(ctx, b.key("dead"), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: redis list dead: %w", err)
	}
	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := b.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

// Requeue moves a dead job back to pending with a fresh attempt budget.
func (b *RedisBroker) Requeue(ctx context.Context, id string) (*Job, error) {
	keys := []string{b.key("state"), b.key("dead"), b.key("attempts"), b.key("pending"), b.key("updated")}
	res, err := requeueScript.Run(ctx, b.client, keys, id, b.now().UnixMilli()).Int()
	if err != nil {
		return nil, fmt.Errorf("queue: redis requeue %s: %w", id, err)
	}
	switch res {
	case -1:
		return nil, ErrJobNotFound
	case 0:
		return nil, ErrNotDead
	}
	return b.Get(ctx, id)
}

func (b *RedisBroker) Stats(ctx context.Context) (Stats, error) {
	states, err := b.client.HVals(ctx, b.key("state")).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("queue: redis stats: %w", err)
	}
	var s Stats
	for _, st := range states {
		switch State(st) {
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
