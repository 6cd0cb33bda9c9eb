package cache

import (
	"context"
	"errors"
	"time"
)

// Provider is the cache surface the risk service depends on. The Redis
// provider backs it in production; NoopProvider stands in when caching
// is disabled.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider satisfies Provider without storing anything. Every read
// misses, every write succeeds.
type NoopProvider struct{}

// Get misses unconditionally.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// SetNX reports the key as newly set without storing it.
func (NoopProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

// Del has nothing to delete.
func (NoopProvider) Del(context.Context, string) error { return nil }

// Close releases nothing.
func (NoopProvider) Close() error { return nil }
