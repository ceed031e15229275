package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adscout/engine/internal/common/config"
)

func setupTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := NewClient(&config.RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name      string
		config    *config.RedisConfig
		errorText string
	}{
		{
			name:      "nil config",
			config:    nil,
			errorText: "redis config is required",
		},
		{
			name:      "unreachable address",
			config:    &config.RedisConfig{Addr: "127.0.0.1:1"},
			errorText: "failed to connect to Redis",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config, zap.NewNop())

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorText)
			assert.Nil(t, client)
		})
	}
}

func TestNewClientNilLogger(t *testing.T) {
	client, err := NewClient(&config.RedisConfig{Addr: "localhost:6379"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger is required")
	assert.Nil(t, client)
}

func TestClientBasicOperations(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, client.Ping(ctx))
	})

	t.Run("health check", func(t *testing.T) {
		assert.NoError(t, client.HealthCheck(ctx))
	})

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "test:key", "test_value", time.Minute))

		value, err := client.Get(ctx, "test:key")
		require.NoError(t, err)
		assert.Equal(t, "test_value", value)

		assert.NoError(t, client.Del(ctx, "test:key"))
	})

	t.Run("get non-existent key", func(t *testing.T) {
		value, err := client.Get(ctx, "non:existent:key")
		assert.NoError(t, err)
		assert.Empty(t, value)
	})

	t.Run("get bytes", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "test:bytes", []byte{1, 2, 3}, time.Minute))

		data, found, err := client.GetBytes(ctx, "test:bytes")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte{1, 2, 3}, data)

		assert.NoError(t, client.Del(ctx, "test:bytes"))
	})

	t.Run("get bytes missing key reports not found", func(t *testing.T) {
		data, found, err := client.GetBytes(ctx, "non:existent:key")
		assert.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, data)
	})

	t.Run("setnx", func(t *testing.T) {
		acquired, err := client.SetNX(ctx, "test:setnx", "first", time.Minute)
		require.NoError(t, err)
		assert.True(t, acquired)

		acquired, err = client.SetNX(ctx, "test:setnx", "second", time.Minute)
		require.NoError(t, err)
		assert.False(t, acquired)

		value, err := client.Get(ctx, "test:setnx")
		require.NoError(t, err)
		assert.Equal(t, "first", value)

		assert.NoError(t, client.Del(ctx, "test:setnx"))
	})

	t.Run("exists", func(t *testing.T) {
		exists, err := client.Exists(ctx, "test:exists")
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, client.Set(ctx, "test:exists", "value", time.Minute))

		exists, err = client.Exists(ctx, "test:exists")
		require.NoError(t, err)
		assert.True(t, exists)

		assert.NoError(t, client.Del(ctx, "test:exists"))
	})

	t.Run("expire and ttl", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "test:ttl", "value", 0))
		require.NoError(t, client.Expire(ctx, "test:ttl", time.Hour))

		ttl, err := client.TTL(ctx, "test:ttl")
		require.NoError(t, err)
		assert.Greater(t, ttl, 59*time.Minute)
		assert.LessOrEqual(t, ttl, time.Hour)

		assert.NoError(t, client.Del(ctx, "test:ttl"))
	})

	t.Run("delete multiple keys", func(t *testing.T) {
		keys := []string{"test:del:1", "test:del:2", "test:del:3"}
		for _, key := range keys {
			require.NoError(t, client.Set(ctx, key, "value", time.Minute))
		}

		require.NoError(t, client.Del(ctx, keys...))

		for _, key := range keys {
			exists, err := client.Exists(ctx, key)
			require.NoError(t, err)
			assert.False(t, exists)
		}
	})

	t.Run("delete no keys", func(t *testing.T) {
		assert.NoError(t, client.Del(ctx))
	})
}

func TestClientKeyExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(&config.RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Set(ctx, "test:expiry", "value", time.Minute))

	mr.FastForward(2 * time.Minute)

	_, found, err := client.GetBytes(ctx, "test:expiry")
	require.NoError(t, err)
	assert.False(t, found, "key should expire after TTL")
}

func TestClientGetClient(t *testing.T) {
	client := setupTestClient(t)
	assert.NotNil(t, client.GetClient())
}
