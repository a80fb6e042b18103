package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"embed-artifacts/internal/app"
	"embed-artifacts/internal/codec"
	"embed-artifacts/internal/extract"
	"embed-artifacts/internal/httputil"
	"embed-artifacts/internal/queue"
	"embed-artifacts/internal/store"
	"embed-artifacts/internal/verify"
)

type embedRequest struct {
	Text string `json:"text" validate:"required"`
	Name string `json:"name" validate:"required,max=128,excludesall=/\\"`
}

// verifyRequest compares either two registered artifacts or two raw vectors.
type verifyRequest struct {
	IDs       []uuid.UUID `json:"ids" validate:"omitempty,len=2"`
	Values    [][]int64   `json:"values" validate:"omitempty,len=2,dive,min=1"`
	Threshold *float64    `json:"threshold" validate:"omitempty,gte=-1,lte=1"`
}

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	if err := os.MkdirAll(deps.Config.OutputDir, 0o755); err != nil {
		deps.Log.Error("failed to create output directory", "dir", deps.Config.OutputDir, "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Port),
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	deps.Log.Info("gateway listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		deps.Log.Error("server failed", "err", err)
	}
}

func newRouter(deps app.Deps) http.Handler {
	r := httputil.NewRouter(deps.Log)

	r.Post("/api/embeddings", embedHandler(deps))
	r.Post("/api/embeddings/upload", uploadHandler(deps))
	r.Get("/api/artifacts", listHandler(deps))
	r.Get("/api/artifacts/{id}", artifactHandler(deps))
	r.Post("/api/verify", verifyHandler(deps))
	r.Get("/healthz", httputil.HealthHandler(deps.Log))
	return r
}

// embedHandler generates an artifact synchronously and registers it.
func embedHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req embedRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}
		if req.Name == "." || req.Name == ".." {
			httputil.Fail(deps.Log, w, "invalid artifact name", nil, http.StatusBadRequest)
			return
		}

		path := artifactPath(deps.Config.OutputDir, req.Name)
		a, err := deps.Store.CreateArtifact(ctx, req.Name, path, deps.Generator.Scale())
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to persist artifact", err, http.StatusInternalServerError)
			return
		}

		values, err := deps.Generator.Generate(ctx, req.Text, path)
		if err != nil {
			fail(deps, ctx, w, "failed to generate embedding", err, a.ID, statusFor(err), true)
			return
		}
		model := app.ModelName(deps.Config)
		if err := deps.Store.CompleteArtifact(ctx, a.ID, model, values); err != nil {
			fail(deps, ctx, w, "failed to persist artifact", err, a.ID, http.StatusInternalServerError, false)
			return
		}

		a.Status = store.StatusReady
		a.Model = model
		a.Dimensions = len(values)
		a.Values = values
		httputil.WriteJSON(w, http.StatusCreated, a)
	}
}

// uploadHandler extracts text from a txt or pdf upload and queues it for a
// worker.
func uploadHandler(deps app.Deps) http.HandlerFunc {
	maxFileSize := deps.Config.MaxUploadSize

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if r.ContentLength > maxFileSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			httputil.Fail(deps.Log, w, "file is required", err, http.StatusBadRequest)
			return
		}
		defer file.Close()

		if header.Size > maxFileSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusBadRequest)
			return
		}
		if _, err := extract.DetectContentType(header.Filename, header.Header.Get("Content-Type")); err != nil {
			httputil.Fail(deps.Log, w, err.Error(), err, http.StatusBadRequest)
			return
		}

		content, err := io.ReadAll(file)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to read file", err, http.StatusInternalServerError)
			return
		}
		text, err := extract.Text(header.Filename, content)
		if err != nil {
			deps.Log.Warn("pdf extraction failed, using raw bytes", "err", err, "filename", header.Filename)
		}
		if strings.TrimSpace(text) == "" {
			httputil.Fail(deps.Log, w, "file contains no text", nil, http.StatusBadRequest)
			return
		}

		name := artifactName(header.Filename)
		path := artifactPath(deps.Config.OutputDir, name)
		a, err := deps.Store.CreateArtifact(ctx, name, path, deps.Generator.Scale())
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to persist artifact", err, http.StatusInternalServerError)
			return
		}

		task, err := queue.NewEmbedTask(queue.EmbedPayload{
			ArtifactID: a.ID,
			Text:       text,
			Path:       path,
			Scale:      deps.Generator.Scale(),
			Envelope:   deps.Config.ArtifactEnvelope,
		})
		if err != nil {
			fail(deps, ctx, w, "marshal payload failed", err, a.ID, http.StatusInternalServerError, true)
			return
		}
		if err := queue.EnqueueWithRetry(ctx, deps.Queue, task, 3, 200*time.Millisecond); err != nil {
			fail(deps, ctx, w, "failed to enqueue artifact; please retry", err, a.ID, http.StatusInternalServerError, true)
			return
		}

		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"artifact_id": a.ID.String(),
			"status":      a.Status,
		})
	}
}

// fail writes an error response and optionally marks the artifact failed.
func fail(deps app.Deps, ctx context.Context, w http.ResponseWriter, message string, err error, id uuid.UUID, status int, markFailed bool) {
	log := deps.Log.With("artifact_id", id)
	if markFailed && id != uuid.Nil {
		if upErr := deps.Store.UpdateArtifactStatus(ctx, id, store.StatusFailed); upErr != nil {
			log.Error("failed to mark artifact failed", "err", upErr)
		}
	}
	httputil.Fail(log, w, message, err, status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, codec.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, codec.ErrIO):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// artifactPath gives every registered artifact its own file, so a later
// artifact with the same name never overwrites an earlier one.
func artifactPath(dir, name string) string {
	return filepath.Join(dir, name+"-"+uuid.NewString()+".json")
}

func artifactName(filename string) string {
	base := filepath.Base(filename)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." || name == ".." {
		return "upload"
	}
	return name
}

func listHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				httputil.Fail(deps.Log, w, "invalid limit", err, http.StatusBadRequest)
				return
			}
			limit = n
		}
		list, err := deps.Store.ListArtifacts(r.Context(), limit)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to list artifacts", err, http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []store.Artifact{}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"artifacts": list})
	}
}

func artifactHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid artifact id", err, http.StatusBadRequest)
			return
		}
		a, err := deps.Store.GetArtifact(r.Context(), id)
		if errors.Is(err, store.ErrArtifactNotFound) {
			httputil.Fail(deps.Log, w, "artifact not found", err, http.StatusNotFound)
			return
		}
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to load artifact", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, a)
	}
}

func verifyHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}
		if (len(req.IDs) == 0) == (len(req.Values) == 0) {
			httputil.Fail(deps.Log, w, "exactly one of ids or values is required", nil, http.StatusBadRequest)
			return
		}
		threshold := deps.Config.SimilarityThreshold
		if req.Threshold != nil {
			threshold = *req.Threshold
		}

		vecs := req.Values
		if len(req.IDs) > 0 {
			vecs = make([][]int64, 0, 2)
			scales := make([]int, 0, 2)
			for _, id := range req.IDs {
				art, err := deps.Store.GetArtifact(r.Context(), id)
				if errors.Is(err, store.ErrArtifactNotFound) {
					httputil.Fail(deps.Log, w, "artifact not found", err, http.StatusNotFound)
					return
				}
				if err != nil {
					httputil.Fail(deps.Log, w, "failed to load artifact", err, http.StatusInternalServerError)
					return
				}
				if art.Status != store.StatusReady {
					httputil.Fail(deps.Log, w, fmt.Sprintf("artifact %s is %s", id, art.Status), nil, http.StatusConflict)
					return
				}
				vecs = append(vecs, art.Values)
				scales = append(scales, art.Scale)
			}
			if scales[0] != scales[1] {
				err := fmt.Errorf("%w: %d vs %d", verify.ErrScaleMismatch, scales[0], scales[1])
				httputil.Fail(deps.Log, w, err.Error(), err, http.StatusUnprocessableEntity)
				return
			}
		}

		res, err := verify.Compare(vecs[0], vecs[1], threshold)
		if err != nil {
			httputil.Fail(deps.Log, w, err.Error(), err, http.StatusUnprocessableEntity)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, res)
	}
}
