package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/example/ridematch/internal/dispatch/domain"
)

const defaultRecentKey = "dispatch:events:recent"

// RedisRecorder keeps the most recent events in a capped Redis list, newest
// first.
type RedisRecorder struct {
	client redis.Cmdable
	key    string
	maxLen int64
}

// NewRedisRecorder constructs the recorder. maxLen <= 0 keeps 1000 events.
func NewRedisRecorder(client redis.Cmdable, key string, maxLen int64) *RedisRecorder {
	if key == "" {
		key = defaultRecentKey
	}
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &RedisRecorder{client: client, key: key, maxLen: maxLen}
}

// Publish satisfies Publisher.
func (r *RedisRecorder) Publish(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.key, payload)
		pipe.LTrim(ctx, r.key, 0, r.maxLen-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis record event: %w", err)
	}
	return nil
}

// Recent returns up to n recorded events, newest first.
func (r *RedisRecorder) Recent(ctx context.Context, n int64) ([]domain.Event, error) {
	if n <= 0 {
		n = r.maxLen
	}
	raw, err := r.client.LRange(ctx, r.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	out := make([]domain.Event, 0, len(raw))
	for _, item := range raw {
		var evt domain.Event
		if err := json.Unmarshal([]byte(item), &evt); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, evt)
	}
	return out, nil
}
