package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"propchain/pkg/cache"
	"propchain/pkg/logging"
	"propchain/pkg/metrics"
	"propchain/pkg/resilience"

	"go.uber.org/zap"
)

// Chain reads through cache layers ordered from fastest (L1) to slowest and
// writes or deletes across all of them.
type Chain struct {
	layers  []cache.CacheLayer
	warmTTL time.Duration
	logger  *logging.Logger
}

// ChainConfig customizes the resilience wrapper of each layer.
type ChainConfig struct {
	// ResilientConfigs is indexed by layer position. Missing entries use
	// DefaultResilientConfig with a 100ms timeout for L1 and 1s below it.
	ResilientConfigs []resilience.ResilientConfig

	// WarmTTL is the TTL used when a hit in a lower layer is copied upwards.
	WarmTTL time.Duration

	Metrics metrics.MetricsCollector
	Logger  *logging.Logger
}

// New creates a chain with default configuration.
func New(layers ...cache.CacheLayer) (*Chain, error) {
	return NewWithConfig(ChainConfig{}, layers...)
}

// NewWithConfig creates a chain and wraps every layer with resilience protection.
func NewWithConfig(config ChainConfig, layers ...cache.CacheLayer) (*Chain, error) {
	if len(layers) == 0 {
		return nil, errors.New("chain: at least one layer required")
	}
	if config.WarmTTL <= 0 {
		config.WarmTTL = 15 * time.Second
	}
	logger := logging.OrGlobal(config.Logger)

	wrapped := make([]cache.CacheLayer, len(layers))
	for i, layer := range layers {
		rc := resilience.DefaultResilientConfig().WithTimeout(time.Second)
		if i == 0 {
			rc = rc.WithTimeout(100 * time.Millisecond)
		}
		if i < len(config.ResilientConfigs) {
			rc = config.ResilientConfigs[i]
		}
		wrapped[i] = resilience.NewResilientLayerWithMetrics(layer, rc, config.Metrics, logger)
	}

	return &Chain{
		layers:  wrapped,
		warmTTL: config.WarmTTL,
		logger:  logger.Named("chain"),
	}, nil
}

// Get traverses layers in order until a hit, then copies the value into the
// layers above the hit. Unavailable layers are skipped.
func (c *Chain) Get(ctx context.Context, key string) (interface{}, error) {
	var lastErr error

	for i, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		value, err := layer.Get(ctx, key)
		if err != nil {
			lastErr = err
			continue
		}

		if i > 0 {
			c.warmUpperLayers(ctx, key, value, i)
		}
		return value, nil
	}

	if lastErr != nil && !cache.IsNotFound(lastErr) {
		return nil, fmt.Errorf("%w: %v", cache.ErrKeyNotFound, lastErr)
	}
	return nil, cache.ErrKeyNotFound
}

func (c *Chain) warmUpperLayers(ctx context.Context, key string, value interface{}, hitIndex int) {
	for i := hitIndex - 1; i >= 0; i-- {
		if err := c.layers[i].Set(ctx, key, value, c.warmTTL); err != nil {
			c.logger.Debug("warm-up failed",
				zap.String("layer", c.layers[i].Name()),
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
}

// Set writes the value to all layers. Every layer is attempted; the errors of
// the failing ones are joined.
func (c *Chain) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	var errs []error
	for _, layer := range c.layers {
		if err := layer.Set(ctx, key, value, ttl); err != nil {
			errs = append(errs, cache.WrapError(err, layer.Name(), "set"))
		}
	}
	return errors.Join(errs...)
}

// Delete removes the key from all layers. Every layer is attempted; the
// errors of the failing ones are joined.
func (c *Chain) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, layer := range c.layers {
		if err := layer.Delete(ctx, key); err != nil {
			errs = append(errs, cache.WrapError(err, layer.Name(), "delete"))
		}
	}
	return errors.Join(errs...)
}

// Close closes all layers.
func (c *Chain) Close() error {
	var errs []error
	for _, layer := range c.layers {
		if err := layer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Layers returns a copy of the wrapped layers.
func (c *Chain) Layers() []cache.CacheLayer {
	layers := make([]cache.CacheLayer, len(c.layers))
	copy(layers, c.layers)
	return layers
}

// Len returns the number of layers in the chain.
func (c *Chain) Len() int {
	return len(c.layers)
}

// String returns a string representation of the chain.
func (c *Chain) String() string {
	names := make([]string, len(c.layers))
	for i, layer := range c.layers {
		names[i] = layer.Name()
	}
	return fmt.Sprintf("chain(%d layers): %s", len(c.layers), strings.Join(names, " -> "))
}
