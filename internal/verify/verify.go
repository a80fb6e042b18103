// Package verify compares quantized embeddings by cosine similarity.
//
// Scale cancels out of the cosine, so two bare artifacts written at the same
// scale compare exactly like their float originals (up to truncation).
package verify

import (
	"errors"
	"fmt"
	"math"

	"embed-artifacts/internal/codec"
)

// DefaultThreshold is the similarity a pair must exceed to match.
const DefaultThreshold = 0.8

var (
	ErrDimensionMismatch = errors.New("verify: vectors have different dimensions")
	ErrZeroVector        = errors.New("verify: vector has zero magnitude")
	ErrScaleMismatch     = errors.New("verify: artifacts use different scales")
)

type Number interface {
	~int64 | ~float32 | ~float64
}

// Result is the outcome of one comparison. Match is Similarity > Threshold.
type Result struct {
	Similarity float64 `json:"similarity"`
	Threshold  float64 `json:"threshold"`
	Match      bool    `json:"match"`
}

// Cosine returns dot(a,b) / (|a| |b|), accumulated in float64.
func Cosine[N Number](a, b []N) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, ErrZeroVector
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, ErrZeroVector
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Clamp rounding noise so identical vectors report exactly 1.
	return math.Max(-1, math.Min(1, sim)), nil
}

// Compare scores a against b using threshold.
func Compare[N Number](a, b []N, threshold float64) (Result, error) {
	sim, err := Cosine(a, b)
	if err != nil {
		return Result{}, err
	}
	return Result{Similarity: sim, Threshold: threshold, Match: sim > threshold}, nil
}

// CompareFiles loads two artifacts, bare or envelope, and compares them. Two
// envelopes must agree on scale; a bare artifact carries no scale and is
// assumed to match the other side.
func CompareFiles(pathA, pathB string, threshold float64) (Result, error) {
	a, err := codec.ReadArtifact(pathA)
	if err != nil {
		return Result{}, err
	}
	b, err := codec.ReadArtifact(pathB)
	if err != nil {
		return Result{}, err
	}
	if a.Scale != 0 && b.Scale != 0 && a.Scale != b.Scale {
		return Result{}, fmt.Errorf("%w: %s uses %d, %s uses %d", ErrScaleMismatch, pathA, a.Scale, pathB, b.Scale)
	}
	return Compare(a.Values, b.Values, threshold)
}
