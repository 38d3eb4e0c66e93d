package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces each ApiKey's per-window request budget (ApiKey.rateLimit,
// spec §3) using a Redis INCR + EXPIRE fixed-window counter. It is not
// installed in any HTTP middleware chain.
type RateLimiter struct {
	redis  *redis.Client
	window time.Duration
}

// NewRateLimiter creates a rate limiter using the given window.
func NewRateLimiter(rdb *redis.Client, window time.Duration) *RateLimiter {
	return &RateLimiter{redis: rdb, window: window}
}

// RateLimitResult holds the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	RetryAt   time.Time
}

// Check increments the caller's counter for the current window and reports
// whether they remain under limit.
func (rl *RateLimiter) Check(ctx context.Context, apiKeyID uuid.UUID, limit int) (*RateLimitResult, error) {
	key := fmt.Sprintf("ratelimit:apikey:%s", apiKeyID)

	count, err := rl.redis.Incr(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("incrementing rate limit counter: %w", err)
	}
	if count == 1 {
		if err := rl.redis.Expire(ctx, key, rl.window).Err(); err != nil {
			return nil, fmt.Errorf("setting rate limit expiry: %w", err)
		}
	}

	if int(count) > limit {
		ttl, err := rl.redis.TTL(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("getting rate limit TTL: %w", err)
		}
		return &RateLimitResult{Allowed: false, Remaining: 0, RetryAt: time.Now().Add(ttl)}, nil
	}

	return &RateLimitResult{Allowed: true, Remaining: limit - int(count)}, nil
}
