package redis

import (
	"crypto/md5"
	"encoding/hex"
)

const (
	cacheKeyPrefix     = "adscout:cache:"
	rateLimitKeyPrefix = "adscout:ratelimit:"
)

// KeyGenerator provides universal Redis key generation for cache and
// rate-limiter state. Content keys are content-addressed: the logical key
// (a URL) is md5-hashed so arbitrary URLs map to fixed-length keys.
type KeyGenerator struct{}

// NewKeyGenerator creates a new KeyGenerator instance
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{}
}

// HashKey returns the md5 hex digest of a logical cache key.
// The same digest names the file in the file-backed tier.
func (kg *KeyGenerator) HashKey(logicalKey string) string {
	sum := md5.Sum([]byte(logicalKey))
	return hex.EncodeToString(sum[:])
}

// CacheKey generates the Redis key for a cached payload.
func (kg *KeyGenerator) CacheKey(logicalKey string) string {
	return cacheKeyPrefix + kg.HashKey(logicalKey)
}

// RateLimitKey generates the Redis key for per-store limiter state.
func (kg *KeyGenerator) RateLimitKey(storeKind string) string {
	return rateLimitKeyPrefix + storeKind
}
