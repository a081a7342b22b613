package cache

import (
	"context"
	"time"
)

// CacheLayer is one storage tier of the read cache (process memory, Redis).
// Values are whatever the loader produced; layers that serialize return the
// raw JSON and callers decode it through manager.Load.
type CacheLayer interface {
	// Get returns ErrKeyNotFound when the key is absent or expired.
	Get(ctx context.Context, key string) (interface{}, error)

	// Set stores value under key for ttl. A zero ttl uses the layer default.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Name identifies the layer in logs and metrics.
	Name() string

	Close() error
}
