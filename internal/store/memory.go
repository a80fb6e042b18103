package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps the registry in process. Used by the CLI and in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[uuid.UUID]Artifact
	order     []uuid.UUID
}

func NewMemory() *MemoryStore {
	return &MemoryStore{artifacts: make(map[uuid.UUID]Artifact)}
}

func (s *MemoryStore) CreateArtifact(_ context.Context, name, path string, scale int) (Artifact, error) {
	a := Artifact{
		ID:        uuid.New(),
		Name:      name,
		Path:      path,
		Status:    StatusPending,
		Scale:     scale,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[a.ID] = a
	s.order = append(s.order, a.ID)
	return a, nil
}

func (s *MemoryStore) CompleteArtifact(_ context.Context, id uuid.UUID, model string, values []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return ErrArtifactNotFound
	}
	a.Status = StatusReady
	a.Model = model
	a.Dimensions = len(values)
	a.Values = cloneValues(values)
	s.artifacts[id] = a
	return nil
}

func (s *MemoryStore) UpdateArtifactStatus(_ context.Context, id uuid.UUID, status ArtifactStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return ErrArtifactNotFound
	}
	a.Status = status
	s.artifacts[id] = a
	return nil
}

func (s *MemoryStore) GetArtifact(_ context.Context, id uuid.UUID) (Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	if !ok {
		return Artifact{}, ErrArtifactNotFound
	}
	if a.Values != nil {
		a.Values = cloneValues(a.Values)
	}
	return a, nil
}

func (s *MemoryStore) ListArtifacts(_ context.Context, limit int) ([]Artifact, error) {
	limit = normalizeLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Artifact, 0, min(limit, len(s.order)))
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		a := s.artifacts[s.order[i]]
		a.Values = nil
		out = append(out, a)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneValues(v []int64) []int64 {
	out := make([]int64, len(v))
	copy(out, v)
	return out
}
