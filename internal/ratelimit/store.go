// Package ratelimit implements the fixed-window request limiter backed by
// Redis. Counters are shared across replicas through the store; the window
// scheme tolerates the small over-counting that concurrent increments can
// produce, so no cross-process locking is used.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record is the stored state of one window: how many requests were counted
// and when the window resets (milliseconds since epoch).
type Record struct {
	Count     int64 `json:"count"`
	ResetTime int64 `json:"resetTime"`
}

// Store is the key/value backend for window records. Get returns (nil, nil)
// when the key is absent.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, key string, rec Record, ttl time.Duration) error
}

// RedisStore is a lazily-connected Store over go-redis. Each operation is
// retried a bounded number of times; connection establishment is delegated
// to the client and happens on first use.
type RedisStore struct {
	client   *redis.Client
	attempts int
	delay    time.Duration
}

// NewRedisStore parses url (redis://...) and returns a store. No connection
// is made until the first command.
func NewRedisStore(url string, attempts int, delay time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if attempts < 1 {
		attempts = 1
	}
	return &RedisStore{
		client:   redis.NewClient(opts),
		attempts: attempts,
		delay:    delay,
	}, nil
}

// Get reads and decodes a window record.
func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	var raw string
	err := s.retry(ctx, func() error {
		var err error
		raw, err = s.client.Get(ctx, key).Result()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// Corrupt record: treat as absent so the window restarts.
		return nil, nil
	}
	return &rec, nil
}

// Put encodes and writes a window record with the given TTL.
func (s *RedisStore) Put(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	err = s.retry(ctx, func() error {
		return s.client.Set(ctx, key, raw, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Ping verifies the Redis connection, used by the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.retry(ctx, func() error {
		return s.client.Ping(ctx).Err()
	})
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < s.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.delay):
			}
		}
		err = op()
		if err == nil || errors.Is(err, redis.Nil) {
			return err
		}
	}
	return err
}
