package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"embed-artifacts/internal/app"
	"embed-artifacts/internal/codec"
	"embed-artifacts/internal/generate"
	"embed-artifacts/internal/httputil"
	"embed-artifacts/internal/queue"
	"embed-artifacts/internal/store"
)

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()
	deps.Log.Info("embed worker starting")

	if err := os.MkdirAll(deps.Config.OutputDir, 0o755); err != nil {
		deps.Log.Error("failed to create output directory", "dir", deps.Config.OutputDir, "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypeEmbed, func(ctx context.Context, task queue.Task) error {
			return handleEmbed(ctx, deps, task)
		})
	})

	g.Go(func() error {
		return httputil.ServeHealth(ctx, deps.Log, deps.Config.Port, "worker")
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		deps.Log.Error("worker service stopped", "err", err)
	}
}

// handleEmbed writes the artifact for one task and completes its registry
// record. Returning an error hands the task back to the queue for retry.
func handleEmbed(ctx context.Context, deps app.Deps, task queue.Task) error {
	p, err := task.EmbedPayload()
	if err != nil {
		return err
	}
	log := deps.Log.With("artifact_id", p.ArtifactID, "attempt", task.Attempts+1)

	values, err := generatorFor(deps, p).Generate(ctx, p.Text, p.Path)
	if err != nil {
		// Bad vectors never get better on retry.
		if errors.Is(err, codec.ErrInvalidInput) {
			markFailed(ctx, deps, log, p)
			log.Error("embedding rejected", "err", err)
			return nil
		}
		if task.FinalAttempt() {
			markFailed(ctx, deps, log, p)
		}
		return err
	}

	if err := deps.Store.CompleteArtifact(ctx, p.ArtifactID, app.ModelName(deps.Config), values); err != nil {
		return err
	}
	log.Info("artifact ready", "path", p.Path, "dimensions", len(values))
	return nil
}

func generatorFor(deps app.Deps, p queue.EmbedPayload) *generate.Generator {
	if (p.Scale == 0 || p.Scale == deps.Generator.Scale()) && p.Envelope == deps.Config.ArtifactEnvelope {
		return deps.Generator
	}
	scale := p.Scale
	if scale == 0 {
		scale = deps.Generator.Scale()
	}
	return generate.New(deps.Embedder, generate.Options{
		Scale:    scale,
		Envelope: p.Envelope,
		Model:    app.ModelName(deps.Config),
	}, deps.Log)
}

func markFailed(ctx context.Context, deps app.Deps, log *slog.Logger, p queue.EmbedPayload) {
	if err := deps.Store.UpdateArtifactStatus(ctx, p.ArtifactID, store.StatusFailed); err != nil {
		log.Error("failed to mark artifact failed", "err", err)
	}
}
