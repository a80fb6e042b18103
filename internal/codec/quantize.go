// Package codec converts embedding vectors to fixed-precision integers and
// persists them as JSON artifacts.
package codec

import (
	"fmt"
	"math"
)

// DefaultScale is the multiplier applied before truncation.
const DefaultScale = 1000

// snapULPs is how far below or above an integer a scaled value may land and
// still be treated as that integer.
const snapULPs = 2

// snapLimit caps the snap window. Past it the ULP is coarse enough that a
// real fraction could fall inside the window, so the product is truncated as is.
const snapLimit = 1e-3

// Float is the element type accepted by Quantize.
type Float interface {
	float32 | float64
}

// Quantize returns truncate(v[i] * scale) for every element, truncating toward
// zero. The product is computed in the precision of the input; a small product
// within a couple of ULPs of an integer is taken as that integer, so that
// k/scale comes back as k.
func Quantize[F Float](vec []F, scale int) ([]int64, error) {
	if scale <= 0 {
		return nil, fmt.Errorf("%w: scale must be positive, got %d", ErrInvalidInput, scale)
	}
	out := make([]int64, len(vec))
	s := F(scale)
	for i, x := range vec {
		if isNonFinite(float64(x)) {
			return nil, fmt.Errorf("%w: element %d is %v", ErrInvalidInput, i, float64(x))
		}
		p := x * s
		if isNonFinite(float64(p)) || math.Abs(float64(p)) >= math.MaxInt64 {
			return nil, fmt.Errorf("%w: element %d overflows at scale %d", ErrInvalidInput, i, scale)
		}
		out[i] = truncate(p)
	}
	return out, nil
}

func truncate[F Float](p F) int64 {
	r := math.Round(float64(p))
	window := snapULPs * ulp(F(r))
	if window < snapLimit && math.Abs(float64(p)-r) <= window {
		return int64(r)
	}
	return int64(p)
}

// ulp is the gap between |v| and the next representable value of v's type.
func ulp[F Float](v F) float64 {
	switch x := any(v).(type) {
	case float32:
		a := float32(math.Abs(float64(x)))
		return float64(math.Nextafter32(a, math.MaxFloat32) - a)
	case float64:
		a := math.Abs(x)
		return math.Nextafter(a, math.MaxFloat64) - a
	}
	return 0
}

func isNonFinite(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}
