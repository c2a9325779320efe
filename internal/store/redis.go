package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/modelguard/modelguard/pkg/config"
	"github.com/modelguard/modelguard/pkg/errors"
)

// RedisStore implements Store on top of a Redis connection pool.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store and verifies connectivity.
func NewRedisStore(cfg *config.RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("Redis configuration is required")
	}

	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		// Connection timeouts
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		// Pool timeouts
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,

		// Retry configuration
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewInternalError("failed to connect to Redis").WithCause(err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing Redis client. Used by tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Client returns the underlying Redis client
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Ping checks the Redis connection health
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.NewInternalError("Redis health check failed").WithCause(err)
	}
	return nil
}

// Get returns the raw value for key
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, errors.NewInternalError("failed to get key").WithCause(err)
	}
	return val, true, nil
}

// Set stores a value under key with an optional ttl
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.NewInternalError("failed to set key").WithCause(err)
	}
	return nil
}

// IncrByFloat atomically increments a float counter, attaching the ttl
// when the key has none yet so stale counters self-clean.
func (s *RedisStore) IncrByFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error) {
	val, err := s.client.IncrByFloat(ctx, key, delta).Result()
	if err != nil {
		return 0, errors.NewInternalError("failed to increment counter").WithCause(err)
	}

	if ttl > 0 {
		if err := s.client.ExpireNX(ctx, key, ttl).Err(); err != nil {
			return val, errors.NewInternalError("failed to set counter expiry").WithCause(err)
		}
	}

	return val, nil
}

// IncrBy atomically increments an integer counter with the same expiry rules.
func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	val, err := s.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, errors.NewInternalError("failed to increment counter").WithCause(err)
	}

	if ttl > 0 {
		if err := s.client.ExpireNX(ctx, key, ttl).Err(); err != nil {
			return val, errors.NewInternalError("failed to set counter expiry").WithCause(err)
		}
	}

	return val, nil
}

// GetFloat returns a float counter value, 0 when absent
func (s *RedisStore) GetFloat(ctx context.Context, key string) (float64, error) {
	val, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}

	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, errors.NewInternalError("counter holds a non-numeric value").WithCause(err)
	}
	return f, nil
}

// GetInt returns an integer counter value, 0 when absent
func (s *RedisStore) GetInt(ctx context.Context, key string) (int64, error) {
	val, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}

	i, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, errors.NewInternalError("counter holds a non-integer value").WithCause(err)
	}
	return i, nil
}

// Delete removes keys
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return errors.NewInternalError("failed to delete keys").WithCause(err)
	}
	return nil
}

// Keys returns all keys starting with prefix using SCAN.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errors.NewInternalError("failed to scan keys").WithCause(err)
	}
	return keys, nil
}

// DeleteByPrefix removes all keys starting with prefix using SCAN to avoid
// blocking the store on large keyspaces.
func (s *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()

	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := s.Delete(ctx, batch...); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return errors.NewInternalError("failed to scan keys").WithCause(err)
	}

	return s.Delete(ctx, batch...)
}
