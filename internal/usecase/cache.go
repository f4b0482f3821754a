package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Positive ownership answers are cached as child:<parent>:<child> -> "1".
// Denials are never cached, so a newly linked child is visible at once; an
// unlinked child stays confirmed until its entry expires.
const (
	ownershipTTL    = 5 * time.Minute
	ownershipMarker = "1"
)

// ErrCacheMiss reports an absent key. Adapters translate their backend's
// miss signal into it.
var ErrCacheMiss = errors.New("cache miss")

// Cache stores short lived string markers for the child resolver.
type Cache interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

func ownershipKey(parentID, childID uint64) string {
	return fmt.Sprintf("child:%d:%d", parentID, childID)
}

// RedisCache keeps ownership markers in Redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Get returns ErrCacheMiss for an absent or expired key.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return value, err
}
