// internal/common/database/redis.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"feedly-pipeline/internal/common/config"

	"github.com/redis/go-redis/v9"
)

var ErrNoRedisAddress = errors.New("redis address is required")

// RedisClient holds the connection behind the pipeline queues. Client is a
// single node, Sentinel failover or cluster client depending on config.
type RedisClient struct {
	Client redis.UniversalClient
	mode   string
}

// NewRedis builds the queue client. Connections are opened lazily.
func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	addrs := cfg.Addresses
	if len(addrs) == 0 && cfg.Address != "" {
		addrs = []string{cfg.Address}
	}
	if len(addrs) == 0 {
		return nil, ErrNoRedisAddress
	}

	dial := config.GetDuration(cfg.DialTimeout)
	if dial <= 0 {
		dial = 5 * time.Second
	}

	opts := &redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   cfg.MasterName,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dial,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}

	return &RedisClient{Client: redis.NewUniversalClient(opts), mode: redisMode(opts)}, nil
}

// redisMode mirrors the client type go-redis picks for opts.
func redisMode(opts *redis.UniversalOptions) string {
	switch {
	case opts.MasterName != "":
		return "sentinel"
	case len(opts.Addrs) > 1:
		return "cluster"
	default:
		return "single"
	}
}

// Mode reports single, sentinel or cluster.
func (c *RedisClient) Mode() string {
	return c.mode
}

// Ping tests the Redis connection
func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s ping failed: %w", c.mode, err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}
