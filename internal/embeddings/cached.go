package embeddings

import (
	"context"
	"log/slog"
	"time"

	"embed-artifacts/internal/cache"
)

// CachedEmbedder consults a cache before calling the wrapped embedder.
// Cache failures are logged and otherwise ignored.
type CachedEmbedder struct {
	inner Embedder
	cache cache.Cache
	model string
	ttl   time.Duration
	log   *slog.Logger
}

func NewCachedEmbedder(inner Embedder, c cache.Cache, model string, ttl time.Duration, log *slog.Logger) *CachedEmbedder {
	if log == nil {
		log = slog.Default()
	}
	return &CachedEmbedder{inner: inner, cache: c, model: model, ttl: ttl, log: log}
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	key := cache.Key(e.model, text)

	hit, err := e.cache.GetEmbedding(ctx, key)
	if err != nil {
		e.log.Warn("embedding cache get failed", "err", err)
	} else if hit != nil {
		e.log.Debug("embedding cache hit", "model", e.model)
		return Vector(hit), nil
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := e.cache.SetEmbedding(ctx, key, vec, e.ttl); err != nil {
		e.log.Warn("embedding cache set failed", "err", err)
	}
	return vec, nil
}
