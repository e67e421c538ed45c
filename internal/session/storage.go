package session

import (
	"context"
	"maps"
	"sync"
)

// Storage persists the four session keys for one client.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Load returns the persisted keys. Missing data yields an empty map, not an error.
	Load(ctx context.Context) (map[string]string, error)

	// Save replaces every persisted key in a single write.
	Save(ctx context.Context, values map[string]string) error

	// Clear removes every persisted key. Clearing empty storage is not an error.
	Clear(ctx context.Context) error
}

// MemoryStorage keeps the keys in process. It backs tests and ephemeral clients.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage creates storage pre-populated with values.
func NewMemoryStorage(values map[string]string) *MemoryStorage {
	m := &MemoryStorage{values: make(map[string]string, len(values))}
	maps.Copy(m.values, values)
	return m
}

// Load returns a copy of the stored keys.
func (m *MemoryStorage) Load(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.values), nil
}

// Save replaces the stored keys.
func (m *MemoryStorage) Save(ctx context.Context, values map[string]string) error {
	next := make(map[string]string, len(values))
	maps.Copy(next, values)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = next
	return nil
}

// Clear drops all stored keys.
func (m *MemoryStorage) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]string)
	return nil
}

var _ Storage = (*MemoryStorage)(nil)
