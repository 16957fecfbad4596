package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "search:results:"

// Redis reads precomputed result lists stored under prefix+query.
type Redis struct {
	client redis.Cmdable
	prefix string
}

// NewRedis constructs the Redis-backed producer.
func NewRedis(client redis.Cmdable, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

// Fetch returns the stored results for query in list order. A missing list
// yields an empty, non-nil result.
func (r *Redis) Fetch(ctx context.Context, query string) ([]string, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("redis source not configured")
	}
	results, err := r.client.LRange(ctx, r.prefix+query, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	if results == nil {
		results = []string{}
	}
	return results, nil
}

// Seed replaces the result list for query.
func (r *Redis) Seed(ctx context.Context, query string, results ...string) error {
	key := r.prefix + query
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(results) > 0 {
			values := make([]any, len(results))
			for i, v := range results {
				values[i] = v
			}
			pipe.RPush(ctx, key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis seed: %w", err)
	}
	return nil
}
