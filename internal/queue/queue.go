// Package queue implements the durable job queue, the out-of-band cancel
// flag channel, and the per-key rate limiter on top of Redis.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ratemate/taas/internal/domain/model"
)

// Queue is a named durable FIFO with at-least-once delivery. Messages are
// LPUSHed and consumed with a blocking BRPOP; liveness counters live under
// {name}:stats:*.
type Queue struct {
	client *redis.Client
	name   string
}

// NewQueue creates a Queue bound to the given Redis client and queue name.
func NewQueue(client *redis.Client, name string) *Queue {
	if name == "" {
		name = "taas"
	}
	return &Queue{client: client, name: name}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) statsKey(counter string) string {
	return q.name + ":stats:" + counter
}

// Push enqueues a job message.
func (q *Queue) Push(ctx context.Context, msg model.JobMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid job message: %w", err)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal job message: %w", err)
	}

	if err := q.client.LPush(ctx, q.name, raw).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	if err := q.client.Incr(ctx, q.statsKey("queued")).Err(); err != nil {
		return fmt.Errorf("bump queued counter: %w", err)
	}
	return nil
}

// Pop blocks up to timeout waiting for a message. A nil message with a nil
// error means the timeout elapsed with the queue empty; callers loop.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*model.JobMessage, error) {
	res, err := q.client.BRPop(ctx, timeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("pop job: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("pop job: unexpected reply length %d", len(res))
	}

	var msg model.JobMessage
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("decode job message: %w", err)
	}
	return &msg, nil
}

// MarkStarted bumps the started counter.
func (q *Queue) MarkStarted(ctx context.Context) error {
	return q.client.Incr(ctx, q.statsKey("started")).Err()
}

// MarkFinished bumps the finished counter.
func (q *Queue) MarkFinished(ctx context.Context) error {
	return q.client.Incr(ctx, q.statsKey("finished")).Err()
}

// MarkFailed bumps the failed counter.
func (q *Queue) MarkFailed(ctx context.Context) error {
	return q.client.Incr(ctx, q.statsKey("failed")).Err()
}

// Stats returns the queue's liveness counters.
func (q *Queue) Stats(ctx context.Context) (model.QueueStats, error) {
	var stats model.QueueStats
	counters := []struct {
		name string
		dst  *int64
	}{
		{"queued", &stats.Queued},
		{"started", &stats.Started},
		{"finished", &stats.Finished},
		{"failed", &stats.Failed},
	}
	for _, c := range counters {
		val, err := q.client.Get(ctx, q.statsKey(c.name)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return stats, fmt.Errorf("read %s counter: %w", c.name, err)
		}
		*c.dst = val
	}
	return stats, nil
}

// Depth returns the number of messages currently waiting in the queue.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}
