package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound is returned when a requested key does not exist in the cache
	ErrKeyNotFound = errors.New("cache: key not found")

	// ErrInvalidKey is returned when a cache key is empty, too long or contains control characters
	ErrInvalidKey = errors.New("cache: invalid key")

	// ErrInvalidValue is returned when a value cannot be stored or decoded
	ErrInvalidValue = errors.New("cache: invalid value")

	// ErrUnknownOperation is returned when invalidating an operation nobody declared
	ErrUnknownOperation = errors.New("cache: unknown operation")
)

// IsNotFound checks if the given error indicates that a key was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// WrapError wraps an error with the layer and operation it came from.
func WrapError(err error, layer string, operation string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("cache layer %s %s: %w", layer, operation, err)
}
