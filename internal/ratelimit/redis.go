package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// The first hit in a window sets its expiry, so INCR and PEXPIRE happen in
// one atomic step and every counter eventually decays.
var incrWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter shares windows between API instances through Redis.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	period time.Duration
	now    func() time.Time
}

// NewRedisLimiter allows limit requests per key in each period.
func NewRedisLimiter(client *redis.Client, prefix string, limit int, period time.Duration) *RedisLimiter {
	if client == nil {
		panic("ratelimit: redis client required")
	}
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		period: period,
		now:    time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := incrWindowScript.Run(ctx, l.client, []string{l.prefix + ":" + key}, l.period.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}
	resetAt := l.now().Add(time.Duration(res[1]) * time.Millisecond)
	return decide(res[0], l.limit, resetAt), nil
}
