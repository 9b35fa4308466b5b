package store

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisSequence draws authorization numbers with INCR so several API
// instances share one counter.
type RedisSequence struct {
	client *redis.Client
	key    string
}

// NewRedisSequence connects to the Redis instance at url.
func NewRedisSequence(url, key string) (*RedisSequence, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("redis sequence key is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisSequence{client: redis.NewClient(opts), key: key}, nil
}

func (s *RedisSequence) Next(ctx context.Context) (int64, error) {
	return s.client.Incr(ctx, s.key).Result()
}

// Ping checks connectivity.
func (s *RedisSequence) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSequence) Close() error {
	return s.client.Close()
}
