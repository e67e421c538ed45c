package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps the keys of one client in a single Redis hash so that writes and
// deletes touch all four fields at once.
type RedisStorage struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStorage returns storage for the hash at key. A positive ttl refreshes the
// hash expiry on every save.
func NewRedisStorage(client *redis.Client, key string, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, key: key, ttl: ttl}
}

// Load reads the hash.
func (r *RedisStorage) Load(ctx context.Context) (map[string]string, error) {
	values, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("session: redis load: %w", err)
	}
	return values, nil
}

// Save replaces the hash inside a MULTI/EXEC block.
func (r *RedisStorage) Save(ctx context.Context, values map[string]string) error {
	fields := make(map[string]any, len(values))
	for k, v := range values {
		fields[k] = v
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		pipe.HSet(ctx, r.key, fields)
		if r.ttl > 0 {
			pipe.Expire(ctx, r.key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: redis save: %w", err)
	}
	return nil
}

// Clear deletes the hash.
func (r *RedisStorage) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("session: redis clear: %w", err)
	}
	return nil
}

var _ Storage = (*RedisStorage)(nil)
