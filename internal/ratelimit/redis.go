package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter enforces a fixed-window limit using shared Redis counters,
// so the limit holds across multiple walletd processes.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration

	// fallback covers Redis outages; better to degrade to per-process
	// limits than to let traffic through unmetered
	fallback *Limiter
}

// NewRedis creates a Redis-backed limiter allowing limit requests per window.
func NewRedis(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = limit
	return &RedisLimiter{
		client:   client,
		limit:    limit,
		window:   window,
		fallback: New(cfg),
	}
}

// Allow increments the caller's window counter and checks it against the limit.
func (r *RedisLimiter) Allow(ctx context.Context, key string) bool {
	windowKey := "ratelimit:" + key + ":" + time.Now().UTC().Truncate(r.window).Format(time.RFC3339)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, r.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return r.fallback.Allow(ctx, key)
	}

	return incr.Val() <= int64(r.limit)
}

// Stop releases the fallback limiter's cleanup goroutine.
func (r *RedisLimiter) Stop() {
	r.fallback.Stop()
}
