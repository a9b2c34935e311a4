// Package ratelimit provides fixed-window request counters behind a small
// interface, so callers can share limits across processes (Redis) or keep
// them local (memory) without the scoring code ever seeing either.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether another request for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type window struct {
	start time.Time
	count int
}

// MemoryLimiter is an in-process fixed-window limiter.
type MemoryLimiter struct {
	limit   int
	period  time.Duration
	nowFn   func() time.Time
	mu      sync.Mutex
	windows map[string]window
}

// NewMemoryLimiter allows limit requests per key per period. nowFn may be nil.
func NewMemoryLimiter(limit int, period time.Duration, nowFn func() time.Time) *MemoryLimiter {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &MemoryLimiter{
		limit:   limit,
		period:  period,
		nowFn:   nowFn,
		windows: make(map[string]window),
	}
}

// Allow records a request for key and reports whether it is within the limit.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.nowFn()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.period {
		w = window{start: now}
	}
	w.count++
	l.windows[key] = w
	return w.count <= l.limit, nil
}

// RedisLimiter is a fixed-window limiter shared through Redis.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	period time.Duration
	prefix string
}

// NewRedisLimiter allows limit requests per key per period using client.
func NewRedisLimiter(client *redis.Client, limit int, period time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, period: period, prefix: "demandsignal:ratelimit:"}
}

// Allow increments the key's counter, starting its expiry on first use.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.prefix + key

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, l.period)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	return incr.Val() <= int64(l.limit), nil
}
