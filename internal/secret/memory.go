package secret

import (
	"context"
	"sync"
)

// Memory is an in-memory Secret used by tests.
type Memory struct {
	mu    sync.Mutex
	store map[string]string
}

// NewMemory creates an empty Memory secret store.
func NewMemory() *Memory {
	return &Memory{store: make(map[string]string)}
}

var _ Secret = (*Memory)(nil)

func (m *Memory) StorePassword(ctx context.Context, key, secretValue string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = secretValue
	return nil
}

func (m *Memory) RetrievePassword(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.store[key]
	return v, ok, nil
}

func (m *Memory) DeletePassword(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return nil
}
