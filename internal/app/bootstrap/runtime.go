package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/agency-leads/internal/config"
	"github.com/wolfman30/agency-leads/internal/ratelimit"
	"github.com/wolfman30/agency-leads/pkg/logging"
)

// BuildRedisClient connects to REDIS_ADDR, shared by the Redis broker and
// the Redis rate limiter. It returns nil when no address is configured, or
// when verify is set and the server does not answer a ping.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	opts := &redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	if !verify {
		return client
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not available", "addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected", "addr", cfg.RedisAddr, "tls", cfg.RedisTLS)
	return client
}

// BuildRateLimiter returns the Redis-backed limiter when configured and
// reachable, and the in-process limiter otherwise.
func BuildRateLimiter(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) ratelimit.Limiter {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.RateLimitBackend == "redis" {
		if redisClient != nil {
			logger.Info("rate limiter using redis", "max", cfg.RateLimitMax, "window", cfg.RateLimitWindow.String())
			return ratelimit.NewRedisLimiter(redisClient, "ratelimit:contact", cfg.RateLimitMax, cfg.RateLimitWindow)
		}
		logger.Warn("redis unavailable; rate limiter falling back to memory")
	}
	return ratelimit.NewMemoryLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
}
