package embeddings

import "context"

// Vector is a simple float32 slice wrapper.
type Vector []float32

// Embedder turns text into a fixed-dimension vector. Implementations are
// constructed once by the caller and passed to whatever needs them.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
}
