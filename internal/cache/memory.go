package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryCache keeps embeddings in process. Expired entries are never returned;
// a background janitor evicts them until Close.
type MemoryCache struct {
	items *ttlcache.Cache[string, []float32]
	stop  sync.Once
}

// NewMemoryCache creates an in-process cache with defaultTTL applied to
// entries set with a zero TTL.
func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	items := ttlcache.New[string, []float32](
		ttlcache.WithTTL[string, []float32](defaultTTL),
		ttlcache.WithDisableTouchOnHit[string, []float32](),
	)
	go items.Start()
	return &MemoryCache{items: items}
}

func (c *MemoryCache) GetEmbedding(ctx context.Context, key string) ([]float32, error) {
	item := c.items.Get(key)
	if item == nil {
		return nil, nil
	}
	vec := item.Value()
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, nil
}

func (c *MemoryCache) SetEmbedding(ctx context.Context, key string, vec []float32, ttl time.Duration) error {
	stored := make([]float32, len(vec))
	copy(stored, vec)
	if ttl <= 0 {
		ttl = ttlcache.DefaultTTL
	}
	c.items.Set(key, stored, ttl)
	return nil
}

func (c *MemoryCache) Purge(ctx context.Context) error {
	c.items.DeleteAll()
	return nil
}

func (c *MemoryCache) Len() int {
	return c.items.Len()
}

func (c *MemoryCache) Close() error {
	c.stop.Do(func() {
		c.items.Stop()
		c.items.DeleteAll()
	})
	return nil
}
