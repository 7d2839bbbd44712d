package wallet

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory config store for demo/development mode.
type MemoryStore struct {
	mu      sync.RWMutex
	configs map[string]*AutoTopupConfig
}

// NewMemoryStore creates a new in-memory config store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{configs: make(map[string]*AutoTopupConfig)}
}

func (m *MemoryStore) EnsureConfig(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[userID]; !ok {
		m.configs[userID] = defaultConfig(userID)
	}
	return nil
}

func (m *MemoryStore) GetConfig(ctx context.Context, userID string) (*AutoTopupConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[userID]
	if !ok {
		return nil, ErrConfigNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (m *MemoryStore) UpdateConfig(ctx context.Context, cfg *AutoTopupConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[cfg.UserID]; !ok {
		return ErrConfigNotFound
	}
	cp := *cfg
	m.configs[cfg.UserID] = &cp
	return nil
}
