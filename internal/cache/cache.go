// Package cache provides the response cache consulted before any model
// call is attempted.
package cache

import (
	"context"
	"time"

	"github.com/modelguard/modelguard/internal/store"
	"github.com/modelguard/modelguard/pkg/config"
)

// ResponseCache stores model outputs keyed by a request digest.
type ResponseCache struct {
	store  store.Store
	config *config.CacheConfig
}

// NewResponseCache creates a response cache over the shared store.
func NewResponseCache(s store.Store, cfg *config.CacheConfig) *ResponseCache {
	return &ResponseCache{
		store:  s,
		config: cfg,
	}
}

// Get retrieves a cached response; ok is false on a miss.
func (c *ResponseCache) Get(ctx context.Context, key string) (string, bool, error) {
	if !c.config.Enabled {
		return "", false, nil
	}
	return c.store.Get(ctx, key)
}

// Put stores a response. A zero ttl falls back to the configured default.
func (c *ResponseCache) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if !c.config.Enabled {
		return nil
	}
	if ttl == 0 {
		ttl = c.config.TTL
	}
	return c.store.Set(ctx, key, value, ttl)
}
