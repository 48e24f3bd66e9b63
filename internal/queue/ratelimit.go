package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/ratemate/taas/internal/errors"
)

// RateLimiter counts requests per key in windows aligned to integer minute
// boundaries. Counters self-expire after 60 seconds so no sweeping is needed.
type RateLimiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewRateLimiter creates a RateLimiter on the given Redis client.
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// NewRateLimiterWithClock creates a RateLimiter with a custom clock (useful for tests).
func NewRateLimiterWithClock(client *redis.Client, now func() time.Time) *RateLimiter {
	return &RateLimiter{client: client, now: now}
}

// Allow counts one request for keyID against limit requests per minute. It
// returns a RateLimited error when the window's count exceeds the limit.
func (r *RateLimiter) Allow(ctx context.Context, keyID string, limit int) error {
	if limit <= 0 {
		return apperrors.RateLimited("rate limit exceeded")
	}

	minute := r.now().Unix() / 60
	key := fmt.Sprintf("ratelimit:%s:%d", keyID, minute)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("count request: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, 60*time.Second).Err(); err != nil {
			return fmt.Errorf("arm window expiry: %w", err)
		}
	}
	if count > int64(limit) {
		return apperrors.RateLimited("rate limit exceeded")
	}
	return nil
}
