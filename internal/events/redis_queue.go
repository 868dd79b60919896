package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on a Redis list, for deployments that want the
// dispatcher to survive process restarts without running SQS.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a queue on the given list key.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if client == nil {
		panic("events: redis client cannot be nil")
	}
	if key == "" {
		key = "clinic:notify:events"
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Send(ctx context.Context, body string) error {
	if err := q.client.LPush(ctx, q.key, body).Err(); err != nil {
		return fmt.Errorf("events: redis push: %w", err)
	}
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}

	wait := time.Duration(waitSeconds) * time.Second
	res, err := q.client.BRPop(ctx, wait, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("events: redis pop: %w", err)
	}
	// BRPop returns [key, value].
	messages := []Message{{ID: uuid.NewString(), Body: res[1]}}

	for len(messages) < maxMessages {
		body, err := q.client.RPop(ctx, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return messages, nil
		}
		messages = append(messages, Message{ID: uuid.NewString(), Body: body})
	}
	return messages, nil
}

// Delete is a no-op: BRPop already removed the entry.
func (q *RedisQueue) Delete(_ context.Context, _ string) error {
	return nil
}

var _ Queue = (*RedisQueue)(nil)
