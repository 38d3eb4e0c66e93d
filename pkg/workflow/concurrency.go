package workflow

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ConcurrencyLimiter enforces the per-organization in-flight workflow cap
// (spec §4.6: "at most N in-flight execution workflows per tenant (default
// 100), enforced... using organizationId as the throttling key").
type ConcurrencyLimiter struct {
	redis *redis.Client
	limit int
}

// NewConcurrencyLimiter creates a ConcurrencyLimiter with the given
// per-organization cap.
func NewConcurrencyLimiter(rdb *redis.Client, limit int) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{redis: rdb, limit: limit}
}

// ErrAtCapacity is returned by Acquire when the organization is already at
// its in-flight workflow limit.
var ErrAtCapacity = fmt.Errorf("workflow: organization at concurrency capacity")

// Acquire reserves one in-flight workflow slot for organizationID. The
// caller must call the returned release func exactly once, whether or not
// the workflow ultimately succeeds.
func (l *ConcurrencyLimiter) Acquire(ctx context.Context, organizationID string) (release func(context.Context), err error) {
	key := "workflow:concurrency:" + organizationID

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("incrementing concurrency counter: %w", err)
	}
	if int(count) > l.limit {
		l.redis.Decr(ctx, key)
		return nil, ErrAtCapacity
	}

	return func(releaseCtx context.Context) {
		l.redis.Decr(releaseCtx, key)
	}, nil
}
