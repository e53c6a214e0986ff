package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is the multi-process driver: a Redis list used as a FIFO via
// RPUSH/BLPOP, so delivery order is preserved across any number of
// consumer processes sharing the same key.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue constructs a driver over an already-configured client,
// using key as the list name.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

// EnqueueAction RPUSHes msg onto the list.
func (q *RedisQueue) EnqueueAction(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal message: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("queue: rpush: %w", err)
	}
	return nil
}

// ConsumeActions BLPOPs messages one at a time until ctx is canceled,
// invoking handler for each. A handler error is logged by the caller's
// discretion; the message is not requeued (matching the in-memory
// driver's "handler owns retry" contract), except where the handler
// itself calls EnqueueAction again for a delayed retry.
func (q *RedisQueue) ConsumeActions(ctx context.Context, handler Handler) error {
	for {
		result, err := q.client.BLPop(ctx, 1*time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("queue: blpop: %w", err)
		}
		if len(result) != 2 {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
			continue
		}
		_ = handler(ctx, msg)
	}
}

// Stop is a no-op; ConsumeActions returns when ctx is canceled.
func (q *RedisQueue) Stop(ctx context.Context) error { return nil }
