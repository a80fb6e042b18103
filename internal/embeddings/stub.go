package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"unicode"
)

// DefaultStubDimensions matches the output size of all-MiniLM-L6-v2.
const DefaultStubDimensions = 384

// StubEmbedder produces deterministic vectors without calling a model. Each
// lowercase word is hashed into a bucket with a signed weight and the result
// is L2-normalised, so texts sharing words score higher under cosine.
type StubEmbedder struct {
	dims int
}

func NewStubEmbedder(dims int) *StubEmbedder {
	if dims <= 0 {
		dims = DefaultStubDimensions
	}
	return &StubEmbedder{dims: dims}
}

func (s *StubEmbedder) Dimensions() int { return s.dims }

func (s *StubEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make(Vector, s.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		sum := sha256.Sum256([]byte(w))
		bucket := binary.BigEndian.Uint32(sum[:4]) % uint32(s.dims)
		weight := float32(1)
		if sum[4]&1 == 1 {
			weight = -1
		}
		vec[bucket] += weight
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Empty text still yields a usable unit vector.
		vec[0] = 1
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}
