package kv

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store used by tests and ephemeral runs
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]string
	getErr error
	setErr error
}

var (
	_ Store         = (*MemoryStore)(nil)
	_ HealthChecker = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

// Get returns the stored value for key
func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return "", false, m.getErr
	}
	value, ok := m.data[key]
	return value, ok, nil
}

// Set stores value under key
func (m *MemoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

// HealthCheck returns the configured read error, if any
func (m *MemoryStore) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getErr
}

// SetGetError makes every Get fail with err (nil clears it)
func (m *MemoryStore) SetGetError(err error) {
	m.mu.Lock()
	m.getErr = err
	m.mu.Unlock()
}

// SetSetError makes every Set fail with err (nil clears it)
func (m *MemoryStore) SetSetError(err error) {
	m.mu.Lock()
	m.setErr = err
	m.mu.Unlock()
}
