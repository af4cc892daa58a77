// Package cache provides the key-value backends behind the L2 fragment cache.
package cache

import (
	"context"
	"errors"
	"time"
)

// Cache is a fragment backend. Implementations are safe for concurrent use.
type Cache interface {
	// Get returns the stored value or an ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value for ttl. A zero ttl uses the backend default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every key under the backend prefix.
	Clear(ctx context.Context) error

	// Exists reports whether key holds an unexpired value.
	Exists(ctx context.Context, key string) (bool, error)
}

// CacheConfig is shared by every backend.
type CacheConfig struct {
	// DefaultTTL applies when Set is called with a zero ttl.
	DefaultTTL time.Duration
	// Prefix namespaces keys inside a shared store.
	Prefix string
}

// DefaultCacheConfig returns the stock fragment configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		DefaultTTL: 5 * time.Minute,
		Prefix:     "composer:frag:",
	}
}

// ErrCacheMiss is returned when a key is absent or expired.
type ErrCacheMiss struct {
	Key string
}

func (e ErrCacheMiss) Error() string {
	return "cache miss: " + e.Key
}

// IsCacheMiss reports whether err is, or wraps, a cache miss.
func IsCacheMiss(err error) bool {
	var miss ErrCacheMiss
	return errors.As(err, &miss)
}
