package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"embed-artifacts/internal/app"
	"embed-artifacts/internal/codec"
	"embed-artifacts/internal/config"
	"embed-artifacts/internal/embeddings"
	"embed-artifacts/internal/generate"
	"embed-artifacts/internal/queue"
	"embed-artifacts/internal/retry"
	"embed-artifacts/internal/store"
	"embed-artifacts/internal/verify"
)

func newTestDeps(st store.Store, q queue.Queue, e embeddings.Embedder, outDir string) app.Deps {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		MaxUploadSize:       1024 * 1024, // 1MB for tests
		OutputDir:           outDir,
		QuantScale:          1000,
		SimilarityThreshold: 0.8,
		EmbedderProvider:    "openai",
		EmbeddingModel:      "text-embedding-3-small",
	}
	return app.Deps{
		Store:    st,
		Queue:    q,
		Config:   cfg,
		Log:      log,
		Embedder: e,
		Generator: generate.New(e, generate.Options{
			Scale: cfg.QuantScale,
			Model: cfg.EmbeddingModel,
			Retry: retry.Policy{Base: time.Millisecond, Attempts: 1},
		}, log),
	}
}

func TestEmbedHandler(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name       string
		body       string
		setup      func(*store.MockStore, *embeddings.MockEmbedder, string)
		wantStatus int
		check      func(*testing.T, *httptest.ResponseRecorder, string)
	}{
		{
			name: "generates and registers",
			body: `{"text":"hola","name":"doc1"}`,
			setup: func(s *store.MockStore, e *embeddings.MockEmbedder, dir string) {
				s.On("CreateArtifact", mock.Anything, "doc1", mock.MatchedBy(inDir(dir, "doc1-")), 1000).
					Return(store.Artifact{ID: id, Name: "doc1", Status: store.StatusPending, Scale: 1000}, nil).Once()
				e.On("Embed", mock.Anything, "hola").Return(embeddings.Vector{0.1234, -0.5678, 1}, nil).Once()
				s.On("CompleteArtifact", mock.Anything, id, "text-embedding-3-small", []int64{123, -567, 1000}).Return(nil).Once()
			},
			wantStatus: http.StatusCreated,
			check: func(t *testing.T, w *httptest.ResponseRecorder, dir string) {
				var a store.Artifact
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
				assert.Equal(t, store.StatusReady, a.Status)
				assert.Equal(t, 3, a.Dimensions)
				assert.Equal(t, []int64{123, -567, 1000}, a.Values)

				files, err := filepath.Glob(filepath.Join(dir, "doc1-*.json"))
				require.NoError(t, err)
				require.Len(t, files, 1)
				got, err := codec.Load(files[0])
				require.NoError(t, err)
				assert.Equal(t, []int64{123, -567, 1000}, got)
			},
		},
		{
			name:       "missing text",
			body:       `{"name":"doc1"}`,
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, w *httptest.ResponseRecorder, _ string) {
				assert.Contains(t, w.Body.String(), "Text failed required")
			},
		},
		{
			name:       "name with a slash",
			body:       `{"text":"x","name":"../etc/passwd"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			body:       `{"text":"x","name":"a","extra":1}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "embedder failure marks artifact failed",
			body: `{"text":"hola","name":"doc1"}`,
			setup: func(s *store.MockStore, e *embeddings.MockEmbedder, dir string) {
				s.On("CreateArtifact", mock.Anything, "doc1", mock.Anything, 1000).
					Return(store.Artifact{ID: id, Status: store.StatusPending}, nil).Once()
				e.On("Embed", mock.Anything, "hola").Return(nil, errors.New("provider down")).Once()
				s.On("UpdateArtifactStatus", mock.Anything, id, store.StatusFailed).Return(nil).Once()
			},
			wantStatus: http.StatusBadGateway,
		},
		{
			name: "non-finite embedding",
			body: `{"text":"hola","name":"doc1"}`,
			setup: func(s *store.MockStore, e *embeddings.MockEmbedder, dir string) {
				s.On("CreateArtifact", mock.Anything, "doc1", mock.Anything, 1000).
					Return(store.Artifact{ID: id, Status: store.StatusPending}, nil).Once()
				nan := float32(0)
				nan = nan / nan
				e.On("Embed", mock.Anything, "hola").Return(embeddings.Vector{nan}, nil).Once()
				s.On("UpdateArtifactStatus", mock.Anything, id, store.StatusFailed).Return(nil).Once()
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "CreateArtifact failure",
			body: `{"text":"hola","name":"doc1"}`,
			setup: func(s *store.MockStore, e *embeddings.MockEmbedder, dir string) {
				s.On("CreateArtifact", mock.Anything, "doc1", mock.Anything, 1000).
					Return(store.Artifact{}, errors.New("db error")).Once()
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			mockStore := new(store.MockStore)
			mockEmbedder := new(embeddings.MockEmbedder)
			if tt.setup != nil {
				tt.setup(mockStore, mockEmbedder, dir)
			}

			deps := newTestDeps(mockStore, new(queue.MockQueue), mockEmbedder, dir)
			req := httptest.NewRequest(http.MethodPost, "/api/embeddings", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			embedHandler(deps)(w, req)

			assert.Equal(t, tt.wantStatus, w.Code, "body: %s", w.Body.String())
			if tt.check != nil {
				tt.check(t, w, dir)
			}
			mockStore.AssertExpectations(t)
			mockEmbedder.AssertExpectations(t)
		})
	}
}

// inDir matches dir/<prefix><uuid>.json.
func inDir(dir, prefix string) func(string) bool {
	return func(path string) bool {
		if filepath.Dir(path) != filepath.Clean(dir) {
			return false
		}
		base := filepath.Base(path)
		if !strings.HasPrefix(base, prefix) || !strings.HasSuffix(base, ".json") {
			return false
		}
		_, err := uuid.Parse(strings.TrimSuffix(strings.TrimPrefix(base, prefix), ".json"))
		return err == nil
	}
}

func TestEmbedHandlerSameNameKeepsBothArtifacts(t *testing.T) {
	dir := t.TempDir()
	st := store.NewMemory()
	deps := newTestDeps(st, new(queue.MockQueue), embeddings.NewStubEmbedder(16), dir)
	h := embedHandler(deps)

	var created []store.Artifact
	for _, text := range []string{"primer texto", "segundo texto distinto"} {
		req := httptest.NewRequest(http.MethodPost, "/api/embeddings",
			strings.NewReader(fmt.Sprintf(`{"text":%q,"name":"doc"}`, text)))
		w := httptest.NewRecorder()
		h(w, req)
		require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

		var a store.Artifact
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
		created = append(created, a)
	}

	require.NotEqual(t, created[0].Path, created[1].Path)
	for _, a := range created {
		rec, err := st.GetArtifact(context.Background(), a.ID)
		require.NoError(t, err)
		onDisk, err := codec.Load(rec.Path)
		require.NoError(t, err)
		assert.Equal(t, rec.Values, onDisk, "file for %s holds another artifact", a.ID)
	}
}

func TestUploadHandler(t *testing.T) {
	validID := uuid.New()

	tests := []struct {
		name          string
		filename      string
		contentType   string
		content       []byte
		setup         func(*store.MockStore, *queue.MockQueue)
		wantStatus    int
		checkResponse func(*testing.T, *http.Response)
	}{
		{
			name:        "successful upload",
			filename:    "notes.txt",
			contentType: "text/plain",
			content:     []byte("Hello"),
			setup: func(s *store.MockStore, q *queue.MockQueue) {
				s.On("CreateArtifact", mock.Anything, "notes", mock.MatchedBy(inDir("out", "notes-")), 1000).
					Return(store.Artifact{ID: validID, Status: store.StatusPending}, nil).Once()
				q.On("Enqueue", mock.Anything, mock.MatchedBy(func(task queue.Task) bool {
					p, err := task.EmbedPayload()
					return err == nil && p.ArtifactID == validID && p.Text == "Hello" && p.Scale == 1000 &&
						inDir("out", "notes-")(p.Path)
				})).Return(nil).Once()
			},
			wantStatus: http.StatusAccepted,
			checkResponse: func(t *testing.T, resp *http.Response) {
				var result map[string]any
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
				assert.Equal(t, validID.String(), result["artifact_id"])
				assert.Equal(t, string(store.StatusPending), result["status"])
			},
		},
		{
			name:        "file too large",
			filename:    "large.txt",
			contentType: "text/plain",
			content:     make([]byte, 2*1024*1024), // 2MB
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "missing Content-Type detects from extension",
			filename:    "notes.txt",
			contentType: "",
			content:     []byte("content"),
			setup: func(s *store.MockStore, q *queue.MockQueue) {
				s.On("CreateArtifact", mock.Anything, "notes", mock.Anything, 1000).
					Return(store.Artifact{ID: validID, Status: store.StatusPending}, nil).Once()
				q.On("Enqueue", mock.Anything, mock.Anything).Return(nil).Once()
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name:        "unsupported extension",
			filename:    "test.docx",
			contentType: "",
			content:     []byte("content"),
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "unsupported Content-Type",
			filename:    "test.doc",
			contentType: "application/msword",
			content:     []byte("content"),
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "blank file",
			filename:    "blank.txt",
			contentType: "text/plain",
			content:     []byte("  \n\t"),
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "CreateArtifact failure",
			filename:    "notes.txt",
			contentType: "text/plain",
			content:     []byte("content"),
			setup: func(s *store.MockStore, q *queue.MockQueue) {
				s.On("CreateArtifact", mock.Anything, "notes", mock.Anything, 1000).
					Return(store.Artifact{}, errors.New("db error")).Once()
			},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:        "Enqueue failure marks artifact failed",
			filename:    "notes.txt",
			contentType: "text/plain",
			content:     []byte("content"),
			setup: func(s *store.MockStore, q *queue.MockQueue) {
				s.On("CreateArtifact", mock.Anything, "notes", mock.Anything, 1000).
					Return(store.Artifact{ID: validID, Status: store.StatusPending}, nil).Once()
				q.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("queue error")).Times(3)
				s.On("UpdateArtifactStatus", mock.Anything, validID, store.StatusFailed).Return(nil).Once()
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockStore := new(store.MockStore)
			mockQueue := new(queue.MockQueue)
			if tt.setup != nil {
				tt.setup(mockStore, mockQueue)
			}

			deps := newTestDeps(mockStore, mockQueue, new(embeddings.MockEmbedder), "out")
			req, err := createMultipartRequest(tt.filename, tt.contentType, tt.content)
			require.NoError(t, err)

			w := httptest.NewRecorder()
			uploadHandler(deps)(w, req)

			resp := w.Result()
			if resp.StatusCode != tt.wantStatus {
				body, _ := io.ReadAll(resp.Body)
				t.Errorf("Expected status %d, got %d. Body: %s", tt.wantStatus, resp.StatusCode, string(body))
			}
			if tt.checkResponse != nil {
				resp.Body = io.NopCloser(bytes.NewReader(w.Body.Bytes()))
				tt.checkResponse(t, resp)
			}

			mockStore.AssertExpectations(t)
			mockQueue.AssertExpectations(t)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		deps := newTestDeps(new(store.MockStore), new(queue.MockQueue), new(embeddings.MockEmbedder), "out")
		req := httptest.NewRequest(http.MethodPost, "/api/embeddings/upload", nil)
		req.Header.Set("Content-Type", "multipart/form-data")
		w := httptest.NewRecorder()

		uploadHandler(deps)(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestArtifactHandler(t *testing.T) {
	validID := uuid.New()

	tests := []struct {
		name       string
		id         string
		setup      func(*store.MockStore)
		wantStatus int
	}{
		{
			name: "found",
			id:   validID.String(),
			setup: func(s *store.MockStore) {
				s.On("GetArtifact", mock.Anything, validID).
					Return(store.Artifact{ID: validID, Name: "doc1", Status: store.StatusReady, Values: []int64{1, 2}}, nil).Once()
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "invalid UUID",
			id:         "not-a-uuid",
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "not found",
			id:   validID.String(),
			setup: func(s *store.MockStore) {
				s.On("GetArtifact", mock.Anything, validID).Return(store.Artifact{}, store.ErrArtifactNotFound).Once()
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "store error",
			id:   validID.String(),
			setup: func(s *store.MockStore) {
				s.On("GetArtifact", mock.Anything, validID).Return(store.Artifact{}, errors.New("db error")).Once()
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockStore := new(store.MockStore)
			if tt.setup != nil {
				tt.setup(mockStore)
			}
			deps := newTestDeps(mockStore, new(queue.MockQueue), new(embeddings.MockEmbedder), "out")

			req := httptest.NewRequest(http.MethodGet, "/api/artifacts/"+tt.id, nil)
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", tt.id)
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

			w := httptest.NewRecorder()
			artifactHandler(deps)(w, req)

			assert.Equal(t, tt.wantStatus, w.Code, "body: %s", w.Body.String())
			mockStore.AssertExpectations(t)
		})
	}
}

func TestListHandler(t *testing.T) {
	mockStore := new(store.MockStore)
	mockStore.On("ListArtifacts", mock.Anything, 5).
		Return([]store.Artifact{{ID: uuid.New(), Name: "a"}, {ID: uuid.New(), Name: "b"}}, nil).Once()
	mockStore.On("ListArtifacts", mock.Anything, 0).Return(nil, nil).Once()
	deps := newTestDeps(mockStore, new(queue.MockQueue), new(embeddings.MockEmbedder), "out")
	h := listHandler(deps)

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/api/artifacts?limit=5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Artifacts []store.Artifact `json:"artifacts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Artifacts, 2)

	w = httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/api/artifacts", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"artifacts": []`)

	w = httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/api/artifacts?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	mockStore.AssertExpectations(t)
}

func TestVerifyHandler(t *testing.T) {
	idA, idB := uuid.New(), uuid.New()

	tests := []struct {
		name       string
		body       string
		setup      func(*store.MockStore)
		wantStatus int
		wantMatch  bool
	}{
		{
			name:       "raw values match",
			body:       `{"values":[[123,0,2000],[120,5,1990]]}`,
			wantStatus: http.StatusOK,
			wantMatch:  true,
		},
		{
			name:       "raw values below custom threshold",
			body:       `{"values":[[1,0],[1,1]],"threshold":0.9}`,
			wantStatus: http.StatusOK,
		},
		{
			name: "registered artifacts",
			body: fmt.Sprintf(`{"ids":["%s","%s"]}`, idA, idB),
			setup: func(s *store.MockStore) {
				s.On("GetArtifact", mock.Anything, idA).Return(store.Artifact{ID: idA, Status: store.StatusReady, Scale: 1000, Values: []int64{3, 4}}, nil).Once()
				s.On("GetArtifact", mock.Anything, idB).Return(store.Artifact{ID: idB, Status: store.StatusReady, Scale: 1000, Values: []int64{6, 8}}, nil).Once()
			},
			wantStatus: http.StatusOK,
			wantMatch:  true,
		},
		{
			name: "pending artifact",
			body: fmt.Sprintf(`{"ids":["%s","%s"]}`, idA, idB),
			setup: func(s *store.MockStore) {
				s.On("GetArtifact", mock.Anything, idA).Return(store.Artifact{ID: idA, Status: store.StatusPending}, nil).Once()
			},
			wantStatus: http.StatusConflict,
		},
		{
			name: "scale mismatch",
			body: fmt.Sprintf(`{"ids":["%s","%s"]}`, idA, idB),
			setup: func(s *store.MockStore) {
				s.On("GetArtifact", mock.Anything, idA).Return(store.Artifact{ID: idA, Status: store.StatusReady, Scale: 1000, Values: []int64{3, 4}}, nil).Once()
				s.On("GetArtifact", mock.Anything, idB).Return(store.Artifact{ID: idB, Status: store.StatusReady, Scale: 100, Values: []int64{6, 8}}, nil).Once()
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "unknown artifact",
			body: fmt.Sprintf(`{"ids":["%s","%s"]}`, idA, idB),
			setup: func(s *store.MockStore) {
				s.On("GetArtifact", mock.Anything, idA).Return(store.Artifact{}, store.ErrArtifactNotFound).Once()
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "dimension mismatch",
			body:       `{"values":[[1,2,3],[1,2]]}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "zero vector",
			body:       `{"values":[[0,0],[1,2]]}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "neither ids nor values",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "three vectors",
			body:       `{"values":[[1],[1],[1]]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "threshold out of range",
			body:       `{"values":[[1],[1]],"threshold":2}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockStore := new(store.MockStore)
			if tt.setup != nil {
				tt.setup(mockStore)
			}
			deps := newTestDeps(mockStore, new(queue.MockQueue), new(embeddings.MockEmbedder), "out")

			req := httptest.NewRequest(http.MethodPost, "/api/verify", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			verifyHandler(deps)(w, req)

			require.Equal(t, tt.wantStatus, w.Code, "body: %s", w.Body.String())
			if tt.wantStatus == http.StatusOK {
				var res verify.Result
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
				assert.Equal(t, tt.wantMatch, res.Match)
			}
			mockStore.AssertExpectations(t)
		})
	}
}

func TestRouterHealthz(t *testing.T) {
	deps := newTestDeps(new(store.MockStore), new(queue.MockQueue), new(embeddings.MockEmbedder), "out")
	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "report", artifactName("report.pdf"))
	assert.Equal(t, "notes.v2", artifactName("notes.v2.txt"))
	assert.Equal(t, "passwd", artifactName("../../etc/passwd.txt"))
	assert.Equal(t, "upload", artifactName(".txt"))
}

func createMultipartRequest(filename, contentType string, content []byte) (*http.Request, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	h := make(map[string][]string)
	h["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename)}
	if contentType != "" {
		h["Content-Type"] = []string{contentType}
	}

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req := httptest.NewRequest(http.MethodPost, "/api/embeddings/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req, nil
}
