// Package ratelimit implements a fixed-window per-principal request limiter
// backed by Redis atomic increment and TTL.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is returned when a principal has exceeded its request
// budget for the current window.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter enforces a fixed request count per principal per window.
type Limiter struct {
	client    *redis.Client
	requests  int64
	window    time.Duration
}

// New builds a Limiter. requests is the number of admitted requests per
// window; window is the fixed-window duration.
func New(client *redis.Client, requests int, window time.Duration) *Limiter {
	return &Limiter{
		client:   client,
		requests: int64(requests),
		window:   window,
	}
}

func key(principal string) string {
	return "rate:" + principal
}

// Allow increments the counter for principal and reports whether the
// request is admitted. The first increment in a window also sets the
// key's TTL; the check is race-free because the increment is atomic and
// the TTL is only set after observing that the key had none.
func (l *Limiter) Allow(ctx context.Context, principal string) error {
	k := key(principal)

	pipe := l.client.TxPipeline()
	incrCmd := pipe.Incr(ctx, k)
	ttlCmd := pipe.TTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rate limit pipeline: %w", err)
	}

	count, err := incrCmd.Result()
	if err != nil {
		return fmt.Errorf("rate limit incr: %w", err)
	}
	ttl, err := ttlCmd.Result()
	if err != nil {
		return fmt.Errorf("rate limit ttl: %w", err)
	}

	if ttl < 0 {
		// First request in this window: the key has no expiry yet.
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return fmt.Errorf("rate limit expire: %w", err)
		}
	}

	if count > l.requests {
		return ErrRateLimited
	}
	return nil
}
