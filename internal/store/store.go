package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type ArtifactStatus string

const (
	StatusPending ArtifactStatus = "pending"
	StatusReady   ArtifactStatus = "ready"
	StatusFailed  ArtifactStatus = "failed"
)

var ErrArtifactNotFound = errors.New("artifact not found")

// Artifact is the registry record for one quantized vector file.
type Artifact struct {
	ID         uuid.UUID      `json:"id"`
	Name       string         `json:"name"`
	Path       string         `json:"path"`
	Status     ArtifactStatus `json:"status"`
	Model      string         `json:"model,omitempty"`
	Scale      int            `json:"scale"`
	Dimensions int            `json:"dimensions"`
	Values     []int64        `json:"values,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Store records which artifacts exist and where they live. ListArtifacts
// returns newest first and leaves Values empty; GetArtifact includes them.
type Store interface {
	CreateArtifact(ctx context.Context, name, path string, scale int) (Artifact, error)
	CompleteArtifact(ctx context.Context, id uuid.UUID, model string, values []int64) error
	UpdateArtifactStatus(ctx context.Context, id uuid.UUID, status ArtifactStatus) error
	GetArtifact(ctx context.Context, id uuid.UUID) (Artifact, error)
	ListArtifacts(ctx context.Context, limit int) ([]Artifact, error)
	Close() error
}

const defaultListLimit = 100

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}
