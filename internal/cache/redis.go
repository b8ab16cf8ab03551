// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisCache shares claims across replicas through Redis SET NX.
type RedisCache struct {
	client *redis.Client
	logger zerolog.Logger
	prefix string
	stats  struct {
		claims     atomic.Int64
		duplicates atomic.Int64
	}
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
	Prefix   string // Key namespace, defaults to "drivecast:"
}

// NewRedisCache connects to Redis and verifies the connection with PING.
func NewRedisCache(config RedisConfig, logger zerolog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", config.Addr).
		Int("db", config.DB).
		Msg("connected to Redis cache")

	return newRedisCache(client, config.Prefix, logger), nil
}

func newRedisCache(client *redis.Client, prefix string, logger zerolog.Logger) *RedisCache {
	if prefix == "" {
		prefix = "drivecast:"
	}
	return &RedisCache{client: client, logger: logger, prefix: prefix}
}

func (c *RedisCache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("cache: ttl must be positive, got %s", ttl)
	}
	ok, err := c.client.SetNX(ctx, c.prefix+key, 1, ttl).Result()
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis setnx failed")
		return false, fmt.Errorf("redis claim: %w", err)
	}
	if ok {
		c.stats.claims.Add(1)
	} else {
		c.stats.duplicates.Add(1)
	}
	return ok, nil
}

func (c *RedisCache) Release(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis delete failed")
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

// Stats does not report size; counting a namespace requires a SCAN.
func (c *RedisCache) Stats() Stats {
	return Stats{
		Claims:      c.stats.claims.Load(),
		Duplicates:  c.stats.duplicates.Load(),
		CurrentSize: -1,
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
