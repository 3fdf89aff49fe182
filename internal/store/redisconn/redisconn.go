// Package redisconn provides the key/value store connection used by the
// checkpoint store.
package redisconn

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/north-cloud/crawlcoord/internal/config"
)

// connectionTimeout bounds the startup ping.
const connectionTimeout = 5 * time.Second

// Connect creates a Redis client and verifies connectivity with a bounded ping.
func Connect(cfg config.Redis) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}
