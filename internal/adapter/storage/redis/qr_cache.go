package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// QRCache implements ports.QRCache using Redis.
type QRCache struct {
	client *goredis.Client
	prefix string
}

// NewQRCache creates a new Redis-backed QR image cache.
func NewQRCache(client *goredis.Client) *QRCache {
	return &QRCache{
		client: client,
		prefix: "qr:",
	}
}

// Get retrieves a cached image. Returns nil, nil if the key does not exist.
func (c *QRCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis qr get: %w", err)
	}
	return val, nil
}

// Set stores an image with TTL.
func (c *QRCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis qr set: %w", err)
	}
	return nil
}
