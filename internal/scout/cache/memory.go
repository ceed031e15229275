package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// memoryShards spreads lock contention across independent LRU lists.
// Shard selection hashes the cache key, so hot batches touching many
// distinct URLs do not serialize on one mutex.
const memoryShards = 16

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type memoryShard struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

// MemoryCache is the in-process cache tier: a sharded LRU with per-entry
// expiry. Expired entries are dropped lazily on read and by LRU pressure.
type MemoryCache struct {
	shards    [memoryShards]*memoryShard
	evictions atomic.Int64

	now func() time.Time
}

// NewMemoryCache creates an LRU cache bounded to roughly maxEntries
// entries across all shards.
func NewMemoryCache(maxEntries int) *MemoryCache {
	perShard := maxEntries / memoryShards
	if perShard < 1 {
		perShard = 1
	}

	mc := &MemoryCache{now: time.Now}
	for i := range mc.shards {
		mc.shards[i] = &memoryShard{
			capacity: perShard,
			entries:  make(map[string]*list.Element),
			order:    list.New(),
		}
	}
	return mc
}

func (mc *MemoryCache) shardFor(key string) *memoryShard {
	return mc.shards[xxhash.Sum64String(key)%memoryShards]
}

// Get returns the cached value for key if present and not expired.
func (mc *MemoryCache) Get(key string) ([]byte, bool) {
	shard := mc.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	elem, ok := shard.entries[key]
	if !ok {
		return nil, false
	}

	entry := elem.Value.(*memoryEntry)
	if mc.now().After(entry.expiresAt) {
		shard.order.Remove(elem)
		delete(shard.entries, key)
		mc.evictions.Add(1)
		return nil, false
	}

	shard.order.MoveToFront(elem)
	return entry.value, true
}

// Set stores a value with the given TTL, evicting the least recently used
// entry if the shard is full.
func (mc *MemoryCache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	shard := mc.shardFor(key)
	expiresAt := mc.now().Add(ttl)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if elem, ok := shard.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		shard.order.MoveToFront(elem)
		return
	}

	shard.entries[key] = shard.order.PushFront(&memoryEntry{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	})

	for shard.order.Len() > shard.capacity {
		oldest := shard.order.Back()
		if oldest == nil {
			break
		}
		shard.order.Remove(oldest)
		delete(shard.entries, oldest.Value.(*memoryEntry).key)
		mc.evictions.Add(1)
	}
}

// Delete removes an entry if present.
func (mc *MemoryCache) Delete(key string) {
	shard := mc.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if elem, ok := shard.entries[key]; ok {
		shard.order.Remove(elem)
		delete(shard.entries, key)
	}
}

// Len returns the current entry count across all shards.
func (mc *MemoryCache) Len() int {
	total := 0
	for _, shard := range mc.shards {
		shard.mu.Lock()
		total += shard.order.Len()
		shard.mu.Unlock()
	}
	return total
}

// Evictions returns the number of entries dropped by LRU pressure or
// lazy expiry since creation.
func (mc *MemoryCache) Evictions() int64 {
	return mc.evictions.Load()
}
