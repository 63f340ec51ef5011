package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// minWait keeps Wait from spinning when the window is nearly free.
const minWait = 5 * time.Millisecond

// RateLimiter is a sliding-window limiter kept in a Redis sorted set. Bots
// sharing an exchange key share one budget, and the HTTP API uses it per
// client IP.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter returns a limiter whose Wait allows limit calls per window.
// Non-positive values fall back to 10 per second.
func NewRateLimiter(c *Client, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		rdb:    c.Underlying(),
		script: redis.NewScript(slidingWindowLua),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func rateLimitKey(key string) string { return "ratelimit:" + key }

// windowState is the script result.
type windowState struct {
	allowed bool
	count   int64
	oldest  int64 // unix micros of the oldest call still in the window
}

func (rl *RateLimiter) take(ctx context.Context, key string, limit int, window time.Duration) (windowState, error) {
	res, err := rl.script.Run(ctx, rl.rdb, []string{rateLimitKey(key)},
		rl.now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return windowState{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return windowState{}, fmt.Errorf("redis: rate limit %s: got %d values, want 3", key, len(res))
	}
	return windowState{allowed: res[0] == 1, count: res[1], oldest: res[2]}, nil
}

// Allow counts one call under key when it fits in the window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	st, err := rl.take(ctx, key, limit, window)
	return st.allowed, err
}

// Wait blocks until a call under key fits or ctx is done. It sleeps until
// the oldest call in the window expires.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		st, err := rl.take(ctx, key, rl.limit, rl.window)
		if err != nil {
			return err
		}
		if st.allowed {
			return nil
		}

		timer := time.NewTimer(retryAfter(st.oldest, rl.window, rl.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

// retryAfter is how long until the call at oldest leaves the window.
func retryAfter(oldest int64, window time.Duration, now time.Time) time.Duration {
	if oldest == 0 {
		return minWait
	}
	d := time.UnixMicro(oldest).Add(window).Sub(now)
	return max(d, minWait)
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
