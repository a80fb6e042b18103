// Package index answers nearest-neighbour queries over a directory of
// artifacts.
package index

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/coder/hnsw"

	"embed-artifacts/internal/codec"
	"embed-artifacts/internal/verify"
)

var ErrDimensionMismatch = errors.New("index: artifact dimensions differ from index")

// Hit is one search result. Similarity is the exact cosine against the query.
type Hit struct {
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
}

// Index is an HNSW graph keyed by artifact name.
type Index struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[string]
	values map[string][]int64
	dims   int
}

func New() *Index {
	g := hnsw.NewGraph[string]()
	g.Distance = hnsw.CosineDistance
	return &Index{graph: g, values: make(map[string][]int64)}
}

// Add inserts or replaces name. Zero vectors have no direction and are
// rejected.
func (ix *Index) Add(name string, values []int64) error {
	if len(values) == 0 {
		return fmt.Errorf("%s: %w", name, verify.ErrZeroVector)
	}
	vec, ok := toFloat(values)
	if !ok {
		return fmt.Errorf("%s: %w", name, verify.ErrZeroVector)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.dims != 0 && len(values) != ix.dims {
		return fmt.Errorf("%w: %s has %d, index has %d", ErrDimensionMismatch, name, len(values), ix.dims)
	}
	if _, exists := ix.values[name]; exists {
		ix.graph.Delete(name)
	}
	ix.graph.Add(hnsw.MakeNode(name, vec))
	ix.values[name] = values
	ix.dims = len(values)
	return nil
}

// LoadDir adds every *.json artifact in dir, keyed by file name without the
// extension. Files that are not artifacts are returned in skipped.
func (ix *Index) LoadDir(dir string) (skipped []string, err error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	for _, p := range paths {
		art, err := codec.ReadArtifact(p)
		if errors.Is(err, codec.ErrParse) {
			skipped = append(skipped, p)
			continue
		}
		if err != nil {
			return skipped, err
		}
		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		if err := ix.Add(name, art.Values); err != nil {
			if errors.Is(err, verify.ErrZeroVector) {
				skipped = append(skipped, p)
				continue
			}
			return skipped, err
		}
	}
	if len(paths) == 0 {
		if _, statErr := os.Stat(dir); statErr != nil {
			return nil, fmt.Errorf("%w: %w", codec.ErrIO, statErr)
		}
	}
	return skipped, nil
}

// Search returns up to k artifacts closest to query, most similar first.
func (ix *Index) Search(query []int64, k int) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.graph.Len() == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != ix.dims {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), ix.dims)
	}
	vec, ok := toFloat(query)
	if !ok {
		return nil, verify.ErrZeroVector
	}

	neighbors := ix.graph.Search(vec, k)
	hits := make([]Hit, 0, len(neighbors))
	for _, n := range neighbors {
		sim, err := verify.Cosine(query, ix.values[n.Key])
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{Name: n.Key, Similarity: sim})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	return hits, nil
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.graph.Len()
}

// toFloat converts to a unit float32 vector; false for the zero vector.
func toFloat(values []int64) ([]float32, bool) {
	var norm float64
	for _, v := range values {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return nil, false
	}
	inv := 1 / math.Sqrt(norm)
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(float64(v) * inv)
	}
	return out, true
}
