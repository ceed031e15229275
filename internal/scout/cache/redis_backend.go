package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/adscout/engine/internal/common/redis"
)

// RedisStore is the Redis-backed durable cache tier. Payloads at or above
// the compression threshold are gzipped with a one-byte marker prefix so
// readers know whether to inflate. Expiry rides on the key TTL.
type RedisStore struct {
	client             *redis.Client
	keys               *redis.KeyGenerator
	compressionMinSize int
	logger             *zap.Logger
}

// Value encoding markers. Redis values are opaque bytes, so the format is
// carried in-band instead of in the key name.
const (
	markerPlain = 0x00
	markerGzip  = 0x01
)

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client, keys *redis.KeyGenerator, compressionMinSize int, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client:             client,
		keys:               keys,
		compressionMinSize: compressionMinSize,
		logger:             logger,
	}
}

// Get reads a cached payload and its remaining freshness.
func (rs *RedisStore) Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	redisKey := rs.keys.CacheKey(key)

	data, found, err := rs.client.GetBytes(ctx, redisKey)
	if err != nil || !found {
		return nil, 0, false, err
	}
	if len(data) == 0 {
		return nil, 0, false, nil
	}

	remaining, err := rs.client.TTL(ctx, redisKey)
	if err != nil || remaining <= 0 {
		// Expired between GET and TTL, or TTL unavailable
		remaining = time.Second
	}

	marker, payload := data[0], data[1:]
	if marker == markerGzip {
		decompressed, err := decompressGzip(payload)
		if err != nil {
			// Self-healing: drop the corrupt entry so the next write recovers
			rs.logger.Warn("Cache decompression failed, treating as miss",
				zap.String("key", key),
				zap.Error(err))
			rs.client.Del(ctx, redisKey)
			return nil, 0, false, nil
		}
		payload = decompressed
	}
	return payload, remaining, true, nil
}

// Set writes a payload with the given TTL.
func (rs *RedisStore) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	marker := byte(markerPlain)
	payload := data

	if len(data) >= rs.compressionMinSize {
		compressed, err := compressGzip(data)
		if err != nil {
			return err
		}
		marker = markerGzip
		payload = compressed
	}

	value := make([]byte, 0, len(payload)+1)
	value = append(value, marker)
	value = append(value, payload...)

	return rs.client.Set(ctx, rs.keys.CacheKey(key), value, ttl)
}
