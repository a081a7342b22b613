// Package observer keeps a best-effort view of the treasury balance. Reads
// that fail are logged and counted; callers keep seeing the last good
// snapshot.
package observer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"propchain/pkg/cache"
	"propchain/pkg/cache/manager"
	"propchain/pkg/logging"
	"propchain/pkg/metrics"
	"propchain/pkg/models"

	"go.uber.org/zap"
)

// DefaultInterval is the time between balance reads of a subscription.
const DefaultInterval = 30 * time.Second

// Reader reads a treasury balance from the ledger mirror.
type Reader interface {
	TreasuryBalance(ctx context.Context, address string) (*models.BalanceSnapshot, error)
}

type Config struct {
	Interval        time.Duration `mapstructure:"interval"`
	TreasuryAddress string        `mapstructure:"treasury_address"`
}

func DefaultConfig() Config {
	return Config{Interval: DefaultInterval}
}

type Observer struct {
	reader   Reader
	interval time.Duration
	cache    *manager.Manager
	metrics  metrics.MetricsCollector
	logger   *logging.Logger

	publishMu sync.Mutex
	mu        sync.RWMutex
	last      map[string]*models.BalanceSnapshot
}

type Option func(*Observer)

// WithInterval sets the subscription poll interval.
func WithInterval(d time.Duration) Option {
	return func(o *Observer) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithCache publishes every good read to the cache view of the balance.
func WithCache(m *manager.Manager) Option {
	return func(o *Observer) { o.cache = m }
}

func WithMetrics(c metrics.MetricsCollector) Option {
	return func(o *Observer) { o.metrics = metrics.OrNoOp(c) }
}

func WithLogger(l *logging.Logger) Option {
	return func(o *Observer) { o.logger = logging.OrGlobal(l).Named("observer") }
}

func New(reader Reader, opts ...Option) *Observer {
	o := &Observer{
		reader:   reader,
		interval: DefaultInterval,
		metrics:  metrics.NoOpCollector{},
		logger:   logging.Global().Named("observer"),
		last:     make(map[string]*models.BalanceSnapshot),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Interval returns the subscription poll interval.
func (o *Observer) Interval() time.Duration {
	return o.interval
}

// Observe reads the balance of address once. It returns nil without reading
// when address is empty. When the read fails the previous snapshot, possibly
// nil, is returned unchanged.
func (o *Observer) Observe(ctx context.Context, address string) *models.BalanceSnapshot {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil
	}

	start := time.Now()
	snap, err := o.reader.TreasuryBalance(ctx, address)
	o.metrics.RecordBalancePoll(err == nil && snap != nil, time.Since(start))

	if err != nil || snap == nil {
		if ctx.Err() == nil {
			o.logger.Warn("balance read failed, keeping previous snapshot",
				logging.Address(address),
				zap.Error(err),
			)
		}
		return o.previous(address)
	}

	return o.publish(ctx, address, snap)
}

// publish records snap unless a newer snapshot of address is already held, in
// which case the newer one is returned. Overlapping reads may finish out of
// order.
func (o *Observer) publish(ctx context.Context, address string, snap *models.BalanceSnapshot) *models.BalanceSnapshot {
	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	if prev := o.previous(address); prev != nil && snap.LastSynced.Before(prev.LastSynced) {
		return prev
	}

	o.mu.Lock()
	o.last[address] = snap
	o.mu.Unlock()

	if o.cache != nil {
		if err := o.cache.Set(ctx, cache.TreasuryBalanceKey(address), snap); err != nil {
			o.logger.Debug("balance view not refreshed", logging.Address(address), zap.Error(err))
		}
	}
	return snap
}

func (o *Observer) previous(address string) *models.BalanceSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last[address]
}

var errNoSnapshot = errors.New("observer: no balance snapshot available")

// View returns the cached balance view of address, reading the mirror on a
// miss. It returns nil when address is empty or no read has ever succeeded.
func (o *Observer) View(ctx context.Context, address string) *models.BalanceSnapshot {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil
	}
	if o.cache == nil {
		return o.Observe(ctx, address)
	}

	snap, err := manager.Load(ctx, o.cache, cache.TreasuryBalanceKey(address),
		func(ctx context.Context) (*models.BalanceSnapshot, error) {
			if s := o.Observe(ctx, address); s != nil {
				return s, nil
			}
			return nil, errNoSnapshot
		})
	if err != nil {
		return o.previous(address)
	}
	return snap
}
