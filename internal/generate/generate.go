// Package generate embeds text and writes quantized vector artifacts.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"embed-artifacts/internal/codec"
	"embed-artifacts/internal/embeddings"
	"embed-artifacts/internal/retry"
)

// ErrDuplicateDestination is returned by GenerateAll when two jobs target the
// same file.
var ErrDuplicateDestination = errors.New("generate: duplicate destination")

// Job is one text to embed and the artifact path to write it to.
type Job struct {
	Text string `json:"text" yaml:"text" toml:"text"`
	Path string `json:"path" yaml:"path" toml:"path"`
}

// Result is the outcome of one Job.
type Result struct {
	Job    Job
	Values []int64
	Err    error
}

type Options struct {
	Scale    int
	Envelope bool
	Model    string // recorded in envelope artifacts
	Retry    retry.Policy
}

type Generator struct {
	embedder embeddings.Embedder
	opts     Options
	log      *slog.Logger
}

func New(embedder embeddings.Embedder, opts Options, log *slog.Logger) *Generator {
	if opts.Scale == 0 {
		opts.Scale = codec.DefaultScale
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = retry.Default
	}
	if log == nil {
		log = slog.Default()
	}
	return &Generator{embedder: embedder, opts: opts, log: log}
}

func (g *Generator) Scale() int { return g.opts.Scale }

// Generate embeds text, quantizes the vector and writes it to dest. Nothing is
// written when embedding or quantization fails.
func (g *Generator) Generate(ctx context.Context, text, dest string) ([]int64, error) {
	var vec embeddings.Vector
	err := g.opts.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		vec, err = g.embedder.Embed(ctx, text)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("embed text for %s: %w", dest, err)
	}

	values, err := codec.Quantize([]float32(vec), g.opts.Scale)
	if err != nil {
		return nil, fmt.Errorf("quantize embedding for %s: %w", dest, err)
	}

	if g.opts.Envelope {
		err = codec.SaveEnvelope(dest, codec.Envelope{Scale: g.opts.Scale, Model: g.opts.Model, Values: values})
	} else {
		err = codec.Save(dest, values)
	}
	if err != nil {
		return nil, err
	}

	g.log.Info("artifact written", "path", dest, "dimensions", len(values), "scale", g.opts.Scale, "envelope", g.opts.Envelope)
	return values, nil
}

// GenerateAll runs jobs on up to workers goroutines. Every job is attempted;
// the returned error joins the per-job failures. Results keep job order.
func (g *Generator) GenerateAll(ctx context.Context, jobs []Job, workers int) ([]Result, error) {
	if err := checkDestinations(jobs); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = 1
	}

	results := make([]Result, len(jobs))
	var (
		mu   sync.Mutex
		errs []error
	)

	var eg errgroup.Group
	eg.SetLimit(workers)
	for i, job := range jobs {
		eg.Go(func() error {
			values, err := g.Generate(ctx, job.Text, job.Path)
			results[i] = Result{Job: job, Values: values, Err: err}
			if err != nil {
				g.log.Error("artifact generation failed", "path", job.Path, "err", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	return results, errors.Join(errs...)
}

func checkDestinations(jobs []Job) error {
	seen := make(map[string]int, len(jobs))
	for i, job := range jobs {
		key := filepath.Clean(job.Path)
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("%w: jobs %d and %d both write %s", ErrDuplicateDestination, prev, i, job.Path)
		}
		seen[key] = i
	}
	return nil
}

// ExampleJobs returns the two reference artifacts written by a bare run of
// the CLI.
func ExampleJobs(dir string) []Job {
	return []Job{
		{Text: "El texto que quieres verificar", Path: filepath.Join(dir, "doc1.json")},
		{Text: "Texto de referencia", Path: filepath.Join(dir, "doc2.json")},
	}
}
