// Package redis wraps the shared key-value store used for the durable
// cache tier and rate-limiter state persistence.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/adscout/engine/internal/common/config"
)

type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
	config *config.RedisConfig
}

func NewClient(cfg *config.RedisConfig, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	// go-redis library defaults: DialTimeout 5s, ReadTimeout 3s,
	// WriteTimeout 3s, PoolSize 10 * GOMAXPROCS
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	client := &Client{
		rdb:    rdb,
		logger: logger,
		config: cfg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Debug("Redis client connected successfully",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB))

	return client, nil
}

func (c *Client) Ping(ctx context.Context) error {
	result, err := c.rdb.Ping(ctx).Result()
	if err != nil {
		c.logger.Error("Redis ping failed", zap.Error(err))
		return err
	}

	if result != "PONG" {
		err := fmt.Errorf("unexpected ping response: %s", result)
		c.logger.Error("Redis ping returned unexpected response", zap.String("response", result))
		return err
	}

	return nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	start := time.Now().UTC()

	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	duration := time.Since(start)
	c.logger.Debug("Redis health check passed", zap.Duration("duration", duration))
	return nil
}

// GetBytes reads a key and reports whether it existed. A missing key is
// not an error.
func (c *Client) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	result, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		c.logger.Error("Redis GET failed",
			zap.String("key", key),
			zap.Error(err))
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}
	return result, true, nil
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	result, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		c.logger.Error("Redis GET failed",
			zap.String("key", key),
			zap.Error(err))
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return result, nil
}

func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	err := c.rdb.Set(ctx, key, value, expiration).Err()
	if err != nil {
		c.logger.Error("Redis SET failed",
			zap.String("key", key),
			zap.Duration("expiration", expiration),
			zap.Error(err))
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	result, err := c.rdb.SetNX(ctx, key, value, expiration).Result()
	if err != nil {
		c.logger.Error("Redis SETNX failed",
			zap.String("key", key),
			zap.Duration("expiration", expiration),
			zap.Error(err))
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return result, nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	err := c.rdb.Del(ctx, keys...).Err()
	if err != nil {
		c.logger.Error("Redis DEL failed",
			zap.Strings("keys", keys),
			zap.Error(err))
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		c.logger.Error("Redis EXISTS failed",
			zap.String("key", key),
			zap.Error(err))
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return result > 0, nil
}

func (c *Client) Expire(ctx context.Context, key string, expiration time.Duration) error {
	err := c.rdb.Expire(ctx, key, expiration).Err()
	if err != nil {
		c.logger.Error("Redis EXPIRE failed",
			zap.String("key", key),
			zap.Duration("expiration", expiration),
			zap.Error(err))
		return fmt.Errorf("redis expire failed: %w", err)
	}
	return nil
}

func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	result, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		c.logger.Error("Redis TTL failed",
			zap.String("key", key),
			zap.Error(err))
		return 0, fmt.Errorf("redis ttl failed: %w", err)
	}
	return result, nil
}

func (c *Client) Close() error {
	if c.rdb != nil {
		err := c.rdb.Close()
		if err != nil {
			c.logger.Error("Failed to close Redis client", zap.Error(err))
			return err
		}
		c.logger.Debug("Redis client closed")
	}
	return nil
}

func (c *Client) GetClient() *redis.Client {
	return c.rdb
}
