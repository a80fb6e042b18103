package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEnqueueWithRetry(t *testing.T) {
	task := Task{ID: uuid.New(), Type: TaskTypeEmbed}

	tests := []struct {
		name     string
		failures int
		attempts int
		wantErr  bool
	}{
		{"succeeds first time", 0, 3, false},
		{"succeeds after retries", 2, 3, false},
		{"gives up", 3, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := new(MockQueue)
			if tt.failures > 0 {
				q.On("Enqueue", mock.Anything, task).Return(errors.New("nats: no responders")).Times(tt.failures)
			}
			if !tt.wantErr {
				q.On("Enqueue", mock.Anything, task).Return(nil).Once()
			}

			err := EnqueueWithRetry(context.Background(), q, task, tt.attempts, time.Millisecond)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			q.AssertExpectations(t)
		})
	}
}

func TestEnqueueWithRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := new(MockQueue)
	q.On("Enqueue", mock.Anything, mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(errors.New("down")).Once()

	err := EnqueueWithRetry(ctx, q, Task{Type: TaskTypeEmbed}, 5, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	q.AssertExpectations(t)
}

func TestEmbedTaskRoundTrip(t *testing.T) {
	p := EmbedPayload{
		ArtifactID: uuid.New(),
		Text:       "Texto de referencia",
		Path:       "embeddings/doc2.json",
		Scale:      1000,
		Envelope:   true,
	}
	task, err := NewEmbedTask(p)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeEmbed, task.Type)
	assert.NotEqual(t, uuid.Nil, task.ID)

	got, err := task.EmbedPayload()
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestEmbedPayloadErrors(t *testing.T) {
	_, err := Task{Type: "other", Payload: []byte(`{}`)}.EmbedPayload()
	assert.Error(t, err)

	_, err = Task{Type: TaskTypeEmbed, Payload: []byte(`{`)}.EmbedPayload()
	assert.Error(t, err)
}

func TestEncodeTask(t *testing.T) {
	task := Task{Type: TaskTypeEmbed, Payload: []byte(`{"text":"hola"}`)}
	body, err := encodeTask(&task)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, task.ID)

	var decoded Task
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, task.ID, decoded.ID)
	assert.Equal(t, task.Payload, decoded.Payload)
	assert.Equal(t, "tasks.embed", subjectFor(decoded.Type))

	_, err = encodeTask(&Task{})
	assert.Error(t, err)
}

func TestNextAttempt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next, ok := nextAttempt(Task{Type: TaskTypeEmbed}, now)
	require.True(t, ok)
	assert.Equal(t, 1, next.Attempts)
	assert.Equal(t, defaultMaxAttempts, next.MaxAttempts)
	assert.Equal(t, now.Add(2*time.Second), next.NotBefore)

	_, ok = nextAttempt(Task{Attempts: 2, MaxAttempts: 3}, now)
	assert.False(t, ok)
}

func TestFinalAttempt(t *testing.T) {
	assert.False(t, Task{}.FinalAttempt())
	assert.True(t, Task{Attempts: defaultMaxAttempts - 1}.FinalAttempt())
	assert.True(t, Task{Attempts: 0, MaxAttempts: 1}.FinalAttempt())
	assert.False(t, Task{Attempts: 1, MaxAttempts: 3}.FinalAttempt())
}
