package resilience

import (
	"context"
	"time"

	"propchain/pkg/cache"
	"propchain/pkg/logging"
	"propchain/pkg/metrics"

	"go.uber.org/zap"
)

// ResilientLayer wraps a CacheLayer with a per-call timeout and a circuit
// breaker. Cache misses count as successful calls.
type ResilientLayer struct {
	layer   cache.CacheLayer
	breaker *Breaker
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// NewResilientLayer creates a resilient wrapper that reports nothing.
func NewResilientLayer(layer cache.CacheLayer, config ResilientConfig) *ResilientLayer {
	return NewResilientLayerWithMetrics(layer, config, metrics.NoOpCollector{}, nil)
}

// NewResilientLayerWithMetrics creates a resilient wrapper reporting to collector.
func NewResilientLayerWithMetrics(layer cache.CacheLayer, config ResilientConfig, collector metrics.MetricsCollector, logger *logging.Logger) *ResilientLayer {
	collector = metrics.OrNoOp(collector)
	logger = logging.OrGlobal(logger)

	return &ResilientLayer{
		layer: layer,
		breaker: NewBreaker("cache-"+layer.Name(), config,
			WithMetrics(collector),
			WithLogger(logger),
			WithSuccessful(cache.IsNotFound),
		),
		metrics: collector,
		logger:  logger.Named("cache").Named(layer.Name()),
	}
}

// Name returns the name of the underlying cache layer.
func (rl *ResilientLayer) Name() string {
	return rl.layer.Name()
}

func (rl *ResilientLayer) Get(ctx context.Context, key string) (interface{}, error) {
	start := time.Now()
	value, err := rl.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return rl.layer.Get(ctx, key)
	})
	rl.metrics.RecordGet(rl.layer.Name(), err == nil, time.Since(start))

	if err != nil && !cache.IsNotFound(err) {
		rl.logger.Warn("get failed", zap.String("key", key), zap.Error(err))
	}
	return value, err
}

func (rl *ResilientLayer) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	_, err := rl.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, rl.layer.Set(ctx, key, value, ttl)
	})
	rl.metrics.RecordSet(rl.layer.Name(), err == nil, time.Since(start))

	if err != nil {
		rl.logger.Warn("set failed", zap.String("key", key), zap.Duration("ttl", ttl), zap.Error(err))
	}
	return err
}

func (rl *ResilientLayer) Delete(ctx context.Context, key string) error {
	start := time.Now()
	_, err := rl.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, rl.layer.Delete(ctx, key)
	})
	rl.metrics.RecordDelete(rl.layer.Name(), err == nil, time.Since(start))

	if err != nil {
		rl.logger.Warn("delete failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Close closes the underlying cache layer.
func (rl *ResilientLayer) Close() error {
	return rl.layer.Close()
}
