package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache stores embedding vectors keyed by model and input text.
type Cache interface {
	// GetEmbedding retrieves a cached vector by key.
	// Returns nil, nil on a miss.
	GetEmbedding(ctx context.Context, key string) ([]float32, error)

	// SetEmbedding stores a vector with TTL. A zero TTL means no expiry.
	SetEmbedding(ctx context.Context, key string, vec []float32, ttl time.Duration) error

	// Purge removes every cached embedding.
	Purge(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// Key derives the cache key for text embedded by model.
func Key(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
