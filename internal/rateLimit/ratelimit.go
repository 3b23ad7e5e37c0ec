package rateLimit

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/bus-seat-reservations/internal/adapters/redis"
	"github.com/robertarktes/bus-seat-reservations/internal/observability"
)

// RateLimiter is a fixed-window counter per key kept in Redis.
type RateLimiter struct {
	redis *redisadapter.Cache
}

func NewRateLimiter(redis *redisadapter.Cache) *RateLimiter {
	return &RateLimiter{redis: redis}
}

// Allow counts one hit against key and reports whether it is within rate hits
// per period. A Redis error is returned with allowed set to true so callers
// can decide to fail open.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error) {
	fullKey := "rl:" + key

	pipe := rl.redis.Client().TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, period)

	if _, err := pipe.Exec(ctx); err != nil {
		return true, err
	}

	if incr.Val() > int64(rate) {
		observability.RateLimitExceeded.Inc()
		return false, nil
	}
	return true, nil
}
