// Package cache provides the two-tier content cache for store listings
// and app-ads.txt payloads: a sharded in-memory LRU in front of a durable
// tier backed by Redis or the local filesystem. Concurrent requests for
// the same key share one upstream fetch.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/adscout/engine/pkg/types"
)

// Backend is the durable cache tier. Get reports the remaining freshness
// of a hit so the memory tier never outlives the durable entry.
// Implementations must be safe for concurrent use.
type Backend interface {
	Get(ctx context.Context, key string) (data []byte, remaining time.Duration, found bool, err error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// FetchFunc produces the payload for a key on a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// FetchTTLFunc produces the payload and its storage TTL on a cache miss.
// Used where the TTL depends on the outcome, such as negative caching of
// missing app-ads.txt files.
type FetchTTLFunc func(ctx context.Context) ([]byte, time.Duration, error)

type flight struct {
	done  chan struct{}
	value []byte
	err   error
}

// Cache coordinates the memory and durable tiers. One instance is shared
// by all requests.
type Cache struct {
	memory  *MemoryCache
	backend Backend // nil disables the durable tier
	logger  *zap.Logger

	mu      sync.Mutex
	flights map[string]*flight

	hits   atomic.Int64
	misses atomic.Int64
	writes atomic.Int64
}

// New creates a cache over an optional durable backend.
func New(memoryEntries int, backend Backend, logger *zap.Logger) *Cache {
	return &Cache{
		memory:  NewMemoryCache(memoryEntries),
		backend: backend,
		logger:  logger,
		flights: make(map[string]*flight),
	}
}

// GetOrFetch returns the cached payload for key, fetching and storing it
// with a fixed TTL on a miss.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) ([]byte, error) {
	return c.GetOrFetchTTL(ctx, key, func(ctx context.Context) ([]byte, time.Duration, error) {
		value, err := fetch(ctx)
		return value, ttl, err
	})
}

// GetOrFetchTTL returns the cached payload for key, fetching and storing
// it on a miss with the TTL the fetch decides. Concurrent callers for the
// same key share a single fetch; a failed fetch is returned to its
// waiters but is not cached, so the next caller retries. Durable-tier
// errors degrade to misses.
func (c *Cache) GetOrFetchTTL(ctx context.Context, key string, fetch FetchTTLFunc) ([]byte, error) {
	if value, ok := c.memory.Get(key); ok {
		c.hits.Add(1)
		return value, nil
	}

	c.mu.Lock()
	if existing, ok := c.flights[key]; ok {
		c.mu.Unlock()
		select {
		case <-existing.done:
			return existing.value, existing.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	current := &flight{done: make(chan struct{})}
	c.flights[key] = current
	c.mu.Unlock()

	value, err := c.lookupOrFetch(ctx, key, fetch)

	current.value, current.err = value, err
	c.mu.Lock()
	delete(c.flights, key)
	c.mu.Unlock()
	close(current.done)

	return value, err
}

func (c *Cache) lookupOrFetch(ctx context.Context, key string, fetch FetchTTLFunc) ([]byte, error) {
	if c.backend != nil {
		value, remaining, found, err := c.backend.Get(ctx, key)
		if err != nil {
			c.logger.Warn("Durable cache read failed, treating as miss",
				zap.String("key", key),
				zap.Error(err))
		} else if found {
			c.hits.Add(1)
			c.memory.Set(key, value, remaining)
			return value, nil
		}
	}

	c.misses.Add(1)
	value, ttl, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.store(ctx, key, value, ttl)
	return value, nil
}

func (c *Cache) store(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.memory.Set(key, value, ttl)
	c.writes.Add(1)

	if c.backend == nil {
		return
	}
	if err := c.backend.Set(ctx, key, value, ttl); err != nil {
		c.logger.Warn("Durable cache write failed",
			zap.String("key", key),
			zap.Error(err))
	}
}

// Stats returns a snapshot of cumulative cache counters.
func (c *Cache) Stats() types.CacheStats {
	return types.CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Writes:    c.writes.Load(),
		Evictions: c.memory.Evictions(),
	}
}
