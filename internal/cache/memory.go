package cache

import (
	"context"
	"sync"
	"time"

	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

const backendMemory = "memory"

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is an in-process Cache. Expired entries are dropped lazily
// and by a background sweep.
type MemoryCache struct {
	logger  observability.Logger
	metrics *Metrics
	now     func() time.Time

	mu     sync.Mutex
	items  map[string]memoryEntry
	closed bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemory creates an in-process cache and starts its sweep loop.
func NewMemory(logger observability.Logger, metrics *Metrics) *MemoryCache {
	if logger == nil {
		logger = observability.NopLogger()
	}
	c := &MemoryCache{
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		items:   make(map[string]memoryEntry),
		stopCh:  make(chan struct{}),
	}
	go c.sweepLoop(time.Minute)
	return c
}

// Get retrieves a value from the cache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCacheClosed
	}

	entry, ok := c.items[key]
	if !ok || entry.expired(c.now()) {
		delete(c.items, key)
		c.metrics.recordMiss(backendMemory)
		return nil, ErrCacheMiss
	}

	c.metrics.recordHit(backendMemory)
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set stores a value in the cache.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCacheClosed
	}

	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.items[key] = entry

	c.logger.Debug("cache set",
		observability.String("key", key),
		observability.Duration("ttl", ttl))
	return nil
}

// Delete removes a value from the cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCacheClosed
	}
	delete(c.items, key)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Close stops the sweep loop and drops every entry.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.mu.Lock()
		c.closed = true
		c.items = make(map[string]memoryEntry)
		c.mu.Unlock()
	})
	return nil
}

func (c *MemoryCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

func (c *MemoryCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.items {
		if entry.expired(now) {
			delete(c.items, key)
		}
	}
}

var _ Cache = (*MemoryCache)(nil)
