package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maithanhduyan/bibank/internal/domain"
)

// Cache backs the external watchlist screening cache.
type Cache struct {
	client *redis.Client
	prefix string
}

// NewCache returns a cache whose keys live under "bibank:cache:".
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client, prefix: "bibank:cache:"}
}

// Get retrieves a value by key. A missing key returns domain.ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCacheMiss
	}
	return v, err
}

// Set stores a value with TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}
