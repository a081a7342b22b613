package manager

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"propchain/pkg/cache"
	"propchain/pkg/logging"
	"propchain/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Store is the layered storage the manager reads through. *chain.Chain
// satisfies it.
type Store interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Manager owns the cached read views. Reads go through Load; writes that make
// views stale call Invalidate with the operation they performed, and the
// registry decides which keys that operation touches.
type Manager struct {
	store    Store
	registry *cache.Registry
	ttl      time.Duration
	sf       singleflight.Group
	metrics  metrics.MetricsCollector
	logger   *logging.Logger

	mu          sync.Mutex
	generations map[string]uint64
}

// Option customizes a Manager.
type Option func(*Manager)

// WithTTL sets the lifetime of loaded values.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

func WithMetrics(c metrics.MetricsCollector) Option {
	return func(m *Manager) { m.metrics = metrics.OrNoOp(c) }
}

func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = logging.OrGlobal(l).Named("cache") }
}

// New creates a manager over store. A nil registry uses cache.DefaultRegistry.
func New(store Store, registry *cache.Registry, opts ...Option) *Manager {
	if registry == nil {
		registry = cache.DefaultRegistry()
	}
	m := &Manager{
		store:       store,
		registry:    registry,
		ttl:         15 * time.Second,
		metrics:     metrics.NoOpCollector{},
		logger:      logging.Global().Named("cache"),
		generations: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the invalidation registry.
func (m *Manager) Registry() *cache.Registry {
	return m.registry
}

func (m *Manager) generation(key string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generations[key]
}

func (m *Manager) bump(key string) {
	m.mu.Lock()
	m.generations[key]++
	m.mu.Unlock()
}

// Load returns the cached value of key, or calls loader and caches its result.
// Concurrent loads of the same key share one loader call unless an
// invalidation of the key falls between them. A load that overlaps an
// invalidation of its key returns its result but does not cache it.
// Loader errors are returned as is and nothing is cached.
func Load[T any](ctx context.Context, m *Manager, key string, loader func(ctx context.Context) (T, error)) (T, error) {
	if key == "" {
		return loader(ctx)
	}

	if value, err := m.store.Get(ctx, key); err == nil {
		if out, ok := decode[T](value); ok {
			return out, nil
		}
		m.logger.Warn("dropping undecodable cache entry", zap.String("key", key))
		_ = m.store.Delete(ctx, key)
	}

	// Loads started after an invalidation never join one started before it.
	gen := m.generation(key)
	result, err, _ := m.sf.Do(key+"#"+strconv.FormatUint(gen, 10), func() (interface{}, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}

		if m.generation(key) == gen {
			if err := m.store.Set(ctx, key, value, m.ttl); err != nil {
				m.logger.Warn("cache fill failed", zap.String("key", key), zap.Error(err))
			}
		}
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// Set stores a fresh value for key, replacing any cached one.
func (m *Manager) Set(ctx context.Context, key string, value interface{}) error {
	if key == "" {
		return cache.ErrInvalidKey
	}
	return m.store.Set(ctx, key, value, m.ttl)
}

// Invalidate deletes every key op declared for scope. It runs synchronously;
// the returned error joins the keys that could not be deleted.
func (m *Manager) Invalidate(ctx context.Context, op cache.Operation, scope cache.Scope) error {
	keys, err := m.registry.Keys(op, scope)
	if err != nil {
		return err
	}

	var errs []error
	for _, key := range keys {
		m.bump(key)
		if err := m.store.Delete(ctx, key); err != nil {
			m.logger.Warn("invalidation failed", zap.String("key", key), zap.Error(err))
			errs = append(errs, err)
		}
	}

	m.metrics.RecordInvalidation(string(op), len(keys))
	m.logger.Debug("invalidated",
		logging.Operation(string(op)),
		zap.Strings("keys", keys),
	)

	return errors.Join(errs...)
}

func decode[T any](value interface{}) (T, bool) {
	if out, ok := value.(T); ok {
		return out, true
	}

	var out T
	var raw []byte
	switch v := value.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		return out, false
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	return out, true
}
