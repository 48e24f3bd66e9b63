package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ratemate/taas/internal/errors"
)

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	_, client := newTestRedis(t)
	now := time.Date(2024, 1, 1, 12, 0, 30, 0, time.UTC)
	limiter := NewRateLimiterWithClock(client, func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, "key-1", 2))
	require.NoError(t, limiter.Allow(ctx, "key-1", 2))

	err := limiter.Allow(ctx, "key-1", 2)
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimited(err))
}

func TestRateLimiterNewMinuteResetsWindow(t *testing.T) {
	_, client := newTestRedis(t)
	now := time.Date(2024, 1, 1, 12, 0, 59, 0, time.UTC)
	limiter := NewRateLimiterWithClock(client, func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, "key-1", 1))
	assert.True(t, apperrors.IsRateLimited(limiter.Allow(ctx, "key-1", 1)))

	// Crossing the minute boundary opens a fresh window.
	now = now.Add(time.Second)
	require.NoError(t, limiter.Allow(ctx, "key-1", 1))
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	_, client := newTestRedis(t)
	limiter := NewRateLimiter(client)
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, "key-1", 1))
	require.NoError(t, limiter.Allow(ctx, "key-2", 1))
	assert.True(t, apperrors.IsRateLimited(limiter.Allow(ctx, "key-1", 1)))
}

func TestRateLimiterWindowExpires(t *testing.T) {
	srv, client := newTestRedis(t)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiterWithClock(client, func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, "key-1", 5))

	// The counter self-expires after 60 seconds of wall time.
	key := fmt.Sprintf("ratelimit:key-1:%d", now.Unix()/60)
	assert.True(t, srv.Exists(key))
	srv.FastForward(61 * time.Second)
	assert.False(t, srv.Exists(key))
}

func TestRateLimiterZeroLimitRejectsEverything(t *testing.T) {
	_, client := newTestRedis(t)
	limiter := NewRateLimiter(client)

	assert.True(t, apperrors.IsRateLimited(limiter.Allow(context.Background(), "key-1", 0)))
}
