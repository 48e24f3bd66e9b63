package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CancelFlagTTL bounds how long a cancel request outlives the job it targets.
// Workers refresh the flag at every suspension point so long-running jobs
// cannot outlast it.
const CancelFlagTTL = time.Hour

// CancelFlags expresses cancellation out-of-band: the queued item stays in
// place and workers consult the flag at suspension points.
type CancelFlags struct {
	client *redis.Client
}

// NewCancelFlags creates a CancelFlags channel on the given Redis client.
func NewCancelFlags(client *redis.Client) *CancelFlags {
	return &CancelFlags{client: client}
}

func cancelKey(sessionID string) string {
	return "cancel:" + sessionID
}

// Request sets the cancel flag for a session.
func (c *CancelFlags) Request(ctx context.Context, sessionID string) error {
	if err := c.client.Set(ctx, cancelKey(sessionID), "1", CancelFlagTTL).Err(); err != nil {
		return fmt.Errorf("set cancel flag: %w", err)
	}
	return nil
}

// IsSet reports whether the cancel flag is set for a session.
func (c *CancelFlags) IsSet(ctx context.Context, sessionID string) (bool, error) {
	n, err := c.client.Exists(ctx, cancelKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("check cancel flag: %w", err)
	}
	return n > 0, nil
}

// Refresh re-arms the TTL when the flag is set; a no-op otherwise.
func (c *CancelFlags) Refresh(ctx context.Context, sessionID string) error {
	if err := c.client.Expire(ctx, cancelKey(sessionID), CancelFlagTTL).Err(); err != nil {
		return fmt.Errorf("refresh cancel flag: %w", err)
	}
	return nil
}

// Clear removes the flag once the session reaches a terminal status.
func (c *CancelFlags) Clear(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, cancelKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear cancel flag: %w", err)
	}
	return nil
}
