package mock

import (
	"context"
	"sync"
	"time"

	"propchain/pkg/cache"
)

// MockLayer is a CacheLayer for tests. Hooks override behavior; without hooks
// it behaves like an always-empty cache that accepts writes. Deleted keys are
// recorded in call order.
type MockLayer struct {
	GetFunc    func(ctx context.Context, key string) (interface{}, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteFunc func(ctx context.Context, key string) error

	name string

	mu          sync.Mutex
	getCalls    int
	setCalls    int
	deletedKeys []string
	closed      bool
}

// NewMockLayer creates a MockLayer with the given name.
func NewMockLayer(name string) *MockLayer {
	return &MockLayer{name: name}
}

func (m *MockLayer) Get(ctx context.Context, key string) (interface{}, error) {
	m.mu.Lock()
	m.getCalls++
	m.mu.Unlock()

	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return nil, cache.ErrKeyNotFound
}

func (m *MockLayer) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	m.setCalls++
	m.mu.Unlock()

	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, ttl)
	}
	return nil
}

func (m *MockLayer) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	m.deletedKeys = append(m.deletedKeys, key)
	m.mu.Unlock()

	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}
	return nil
}

func (m *MockLayer) Name() string {
	return m.name
}

func (m *MockLayer) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// GetCalls returns the number of Get calls.
func (m *MockLayer) GetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

// SetCalls returns the number of Set calls.
func (m *MockLayer) SetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCalls
}

// DeletedKeys returns the keys passed to Delete, in call order.
func (m *MockLayer) DeletedKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, len(m.deletedKeys))
	copy(keys, m.deletedKeys)
	return keys
}

// Closed reports whether Close was called.
func (m *MockLayer) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
