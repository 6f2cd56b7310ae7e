// Package cache provides the shared byte store behind the JWKS key set.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/quotes-service/internal/config"
	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

// Common cache errors.
var (
	// ErrCacheMiss indicates that the key was not found in the cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheClosed indicates that the cache has been closed.
	ErrCacheClosed = errors.New("cache closed")

	// ErrInvalidConfig indicates that the cache configuration is invalid.
	ErrInvalidConfig = errors.New("invalid cache configuration")
)

// Cache stores opaque values with an expiry.
type Cache interface {
	// Get retrieves a value. Returns ErrCacheMiss if the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value. A TTL of 0 means the entry never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// Close releases the underlying resources.
	Close() error
}

// Option configures a cache created by New.
type Option func(*options)

type options struct {
	logger  observability.Logger
	metrics *Metrics
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// New creates the store selected by cfg.Type. It returns (nil, nil) for
// the "none" type.
func New(cfg *config.CacheConfig, opts ...Option) (Cache, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}

	o := &options{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(o)
	}

	switch cfg.Type {
	case config.CacheTypeNone:
		return nil, nil
	case config.CacheTypeMemory, "":
		return NewMemory(o.logger, o.metrics), nil
	case config.CacheTypeRedis:
		return NewRedis(&cfg.Redis, o.logger, o.metrics)
	default:
		return nil, fmt.Errorf("%w: unknown cache type %q", ErrInvalidConfig, cfg.Type)
	}
}
