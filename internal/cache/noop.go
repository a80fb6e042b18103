package cache

import (
	"context"
	"time"
)

// NoOpCache is the cache used when CACHE_PROVIDER=none or Redis is
// unreachable. Every lookup is a miss.
type NoOpCache struct{}

func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

func (c *NoOpCache) GetEmbedding(ctx context.Context, key string) ([]float32, error) {
	return nil, nil
}

func (c *NoOpCache) SetEmbedding(ctx context.Context, key string, vec []float32, ttl time.Duration) error {
	return nil
}

func (c *NoOpCache) Purge(ctx context.Context) error {
	return nil
}

func (c *NoOpCache) Close() error {
	return nil
}
