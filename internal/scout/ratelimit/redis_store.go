package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/adscout/engine/internal/common/redis"
	"github.com/adscout/engine/pkg/types"
)

// stateTTL bounds how long persisted limiter state outlives the process.
// Stale rates are worse than defaults once upstream behavior has moved on.
const stateTTL = 1 * time.Hour

// RedisStateStore persists limiter state in the shared key-value store so
// adapted rates survive restarts and are shared across instances.
type RedisStateStore struct {
	client *redis.Client
	keys   *redis.KeyGenerator
	logger *zap.Logger
}

// NewRedisStateStore creates a Redis-backed state store.
func NewRedisStateStore(client *redis.Client, keys *redis.KeyGenerator, logger *zap.Logger) *RedisStateStore {
	return &RedisStateStore{
		client: client,
		keys:   keys,
		logger: logger,
	}
}

// Load fetches persisted state for a store kind. A missing key returns
// (nil, nil).
func (s *RedisStateStore) Load(ctx context.Context, kind types.StoreKind) (*PersistedState, error) {
	opCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	data, found, err := s.client.GetBytes(opCtx, s.keys.RateLimitKey(string(kind)))
	if err != nil {
		return nil, fmt.Errorf("failed to load rate limiter state: %w", err)
	}
	if !found {
		return nil, nil
	}

	var state PersistedState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("Discarding corrupt rate limiter state",
			zap.String("store", string(kind)),
			zap.Error(err))
		return nil, nil
	}
	return &state, nil
}

// Save mirrors state with the fixed TTL.
func (s *RedisStateStore) Save(ctx context.Context, kind types.StoreKind, state *PersistedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal rate limiter state: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.client.Set(opCtx, s.keys.RateLimitKey(string(kind)), data, stateTTL); err != nil {
		return fmt.Errorf("failed to persist rate limiter state: %w", err)
	}
	return nil
}
