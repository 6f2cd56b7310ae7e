package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/quotes-service/internal/config"
	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

const (
	backendRedis    = "redis"
	cacheTracerName = "quotes-service/cache"
)

// RedisCache is a Cache backed by Redis, shared across replicas.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	logger    observability.Logger
	metrics   *Metrics
}

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(cfg *config.RedisConfig, logger observability.Logger, metrics *Metrics) (*RedisCache, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, fmt.Errorf("%w: redis address is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	opts := &redis.Options{
		Addr:        cfg.Address,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout.Duration(),
		PoolSize:    cfg.PoolSize,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = config.DefaultRedisKeyPrefix
	}

	logger.Info("redis cache initialized",
		observability.String("address", cfg.Address),
		observability.Int("db", cfg.DB),
		observability.String("keyPrefix", prefix))

	return &RedisCache{
		client:    client,
		keyPrefix: prefix,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := c.startSpan(ctx, "cache.Get", key)
	defer span.End()

	val, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	switch {
	case err == nil:
		c.metrics.recordHit(backendRedis)
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return val, nil
	case errors.Is(err, redis.Nil):
		c.metrics.recordMiss(backendRedis)
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrCacheMiss
	default:
		c.fail(span, "get", key, err)
		return nil, err
	}
}

// Set stores a value in Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := c.startSpan(ctx, "cache.Set", key)
	defer span.End()

	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.keyPrefix+key, value, ttl).Err(); err != nil {
		c.fail(span, "set", key, err)
		return err
	}
	return nil
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	ctx, span := c.startSpan(ctx, "cache.Delete", key)
	defer span.End()

	if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		c.fail(span, "delete", key, err)
		return err
	}
	return nil
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks that Redis is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) startSpan(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return otel.Tracer(cacheTracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", backendRedis),
			attribute.String("cache.key", key),
		),
	)
}

func (c *RedisCache) fail(span trace.Span, op, key string, err error) {
	c.metrics.recordError(backendRedis, op)
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	c.logger.Error("redis "+op+" failed",
		observability.String("key", key),
		observability.Error(err))
}

var _ Cache = (*RedisCache)(nil)
