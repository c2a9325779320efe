// Package store provides the shared counter store used for budget and
// circuit breaker state across process instances.
package store

import (
	"context"
	"time"
)

// Store is a key-value store with atomic increments and expiry, shared
// across all process instances. Missing keys read as zero values.
type Store interface {
	// Get returns the raw value for key; ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set stores a value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// IncrByFloat atomically increments a float counter, creating it with
	// the given ttl if it does not exist.
	IncrByFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error)
	// IncrBy atomically increments an integer counter, creating it with
	// the given ttl if it does not exist.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	// GetFloat returns a float counter value, 0 when absent.
	GetFloat(ctx context.Context, key string) (float64, error)
	// GetInt returns an integer counter value, 0 when absent.
	GetInt(ctx context.Context, key string) (int64, error)
	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// DeleteByPrefix removes every key starting with prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error
	// Keys returns every key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Ping checks store connectivity.
	Ping(ctx context.Context) error
}
