package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

var _ Store = (*MockStore)(nil)

// MockStore is a mock implementation of Store using testify/mock.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateArtifact(ctx context.Context, name, path string, scale int) (Artifact, error) {
	args := m.Called(ctx, name, path, scale)
	return args.Get(0).(Artifact), args.Error(1)
}

func (m *MockStore) CompleteArtifact(ctx context.Context, id uuid.UUID, model string, values []int64) error {
	args := m.Called(ctx, id, model, values)
	return args.Error(0)
}

func (m *MockStore) UpdateArtifactStatus(ctx context.Context, id uuid.UUID, status ArtifactStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockStore) GetArtifact(ctx context.Context, id uuid.UUID) (Artifact, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Artifact), args.Error(1)
}

func (m *MockStore) ListArtifacts(ctx context.Context, limit int) ([]Artifact, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Artifact), args.Error(1)
}

func (m *MockStore) Close() error {
	return m.Called().Error(0)
}
