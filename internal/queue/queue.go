package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"embed-artifacts/internal/retry"
)

// TaskType enumerates supported task categories.
type TaskType string

const (
	TaskTypeEmbed TaskType = "embed"
)

// Task represents a unit of work passed between the gateway and workers.
type Task struct {
	ID          uuid.UUID `json:"id"`
	Type        TaskType  `json:"type"`
	Payload     []byte    `json:"payload"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	NotBefore   time.Time `json:"not_before"`
}

// EmbedPayload asks a worker to embed Text and write the artifact at Path.
type EmbedPayload struct {
	ArtifactID uuid.UUID `json:"artifact_id"`
	Text       string    `json:"text"`
	Path       string    `json:"path"`
	Scale      int       `json:"scale"`
	Envelope   bool      `json:"envelope"`
}

// NewEmbedTask wraps p in a Task of type embed.
func NewEmbedTask(p EmbedPayload) (Task, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Task{}, err
	}
	return Task{ID: uuid.New(), Type: TaskTypeEmbed, Payload: body}, nil
}

// EmbedPayload decodes the task payload.
func (t Task) EmbedPayload() (EmbedPayload, error) {
	var p EmbedPayload
	if t.Type != TaskTypeEmbed {
		return p, fmt.Errorf("task %s is %q, not %q", t.ID, t.Type, TaskTypeEmbed)
	}
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return p, fmt.Errorf("decode embed payload: %w", err)
	}
	return p, nil
}

// FinalAttempt reports whether a failure now would exhaust the task's retries.
func (t Task) FinalAttempt() bool {
	limit := t.MaxAttempts
	if limit == 0 {
		limit = defaultMaxAttempts
	}
	return t.Attempts+1 >= limit
}

type Handler func(context.Context, Task) error

// Queue exposes a minimal contract to enqueue and consume tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Worker(ctx context.Context, taskType TaskType, handler Handler) error
}

// EnqueueWithRetry attempts to enqueue with retries and exponential backoff.
func EnqueueWithRetry(ctx context.Context, q Queue, task Task, attempts int, base time.Duration) error {
	p := retry.Policy{Base: base, Attempts: attempts}
	return p.Do(ctx, func(ctx context.Context) error {
		return q.Enqueue(ctx, task)
	})
}
