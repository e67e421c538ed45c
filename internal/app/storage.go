package app

import (
	"context"
	"fmt"
	"io"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/kinsi/kinsi/internal/platform/cache"
	"github.com/kinsi/kinsi/internal/session"
)

const redisKeyPrefix = "kinsi:session:"

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewStorageFactory returns the per-client storage backend selected by cfg: a Redis
// hash per client when RedisAddr is set, in-process memory otherwise.
func NewStorageFactory(ctx context.Context, cfg *Config) (session.StorageFactory, io.Closer, error) {
	if cfg.RedisAddr == "" {
		return memoryFactory(cfg.SessionTTL), nopCloser{}, nil
	}
	client, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("app: session storage: %w", err)
	}
	return redisFactory(client, cfg.SessionTTL), client, nil
}

func redisFactory(client *redis.Client, ttl time.Duration) session.StorageFactory {
	return func(clientID string) session.Storage {
		return session.NewRedisStorage(client, redisKeyPrefix+clientID, ttl)
	}
}

// memoryFactory keeps the MemoryStorage of every client that saved a session so a
// store evicted from the registry finds its keys again. Clients that never saved are
// not retained. Entries expire after ttl of inactivity.
func memoryFactory(ttl time.Duration) session.StorageFactory {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	backends := gocache.New(ttl, time.Minute)
	return func(clientID string) session.Storage {
		if cached, ok := backends.Get(clientID); ok {
			backends.SetDefault(clientID, cached)
			return cached.(*retainedMemory)
		}
		storage := &retainedMemory{MemoryStorage: session.NewMemoryStorage(nil)}
		storage.retain = func() { backends.SetDefault(clientID, storage) }
		return storage
	}
}

// retainedMemory registers itself with the factory on its first Save.
type retainedMemory struct {
	*session.MemoryStorage
	retain func()
}

func (m *retainedMemory) Save(ctx context.Context, values map[string]string) error {
	if err := m.MemoryStorage.Save(ctx, values); err != nil {
		return err
	}
	m.retain()
	return nil
}
