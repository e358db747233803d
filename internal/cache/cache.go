package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is the shared lookup surface used for embedding results and
// ingestion external-id suppression. The in-process implementation backs a
// single-node deployment; the Redis implementation shares state across
// workers.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Close() error
}

type MemoryCache struct {
	cache *gocache.Cache
}

func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	if defaultTTL == 0 {
		defaultTTL = 1 * time.Hour
	}
	return &MemoryCache{
		cache: gocache.New(defaultTTL, defaultTTL/2),
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (string, bool) {
	value, found := c.cache.Get(key)
	if !found {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

func (c *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	c.cache.Set(key, value, ttl)
}

func (c *MemoryCache) Delete(ctx context.Context, key string) {
	c.cache.Delete(key)
}

func (c *MemoryCache) Close() error {
	c.cache.Flush()
	return nil
}
