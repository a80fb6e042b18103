package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"embed-artifacts/internal/app"
	"embed-artifacts/internal/codec"
	"embed-artifacts/internal/generate"
	"embed-artifacts/internal/index"
	"embed-artifacts/internal/verify"
)

// Build-time variables set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// buildDeps is swapped out in tests.
var buildDeps = app.BuildLocal

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type cli struct {
	deps app.Deps
	out  io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		switch args[0] {
		case "version", "-v", "--version":
			fmt.Fprintf(stdout, "embedgen %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		case "help", "-h", "--help":
			printUsage(stdout)
			return nil
		}
	}

	deps, err := buildDeps(stderr)
	if err != nil {
		return err
	}
	defer deps.Close()
	c := &cli{deps: deps, out: stdout}

	if len(args) == 0 {
		return c.runExamples(ctx)
	}
	switch args[0] {
	case "gen":
		return c.runGen(ctx, args[1:])
	case "batch":
		return c.runBatch(ctx, args[1:])
	case "verify":
		return c.runVerify(args[1:])
	case "search":
		return c.runSearch(ctx, args[1:])
	case "purge-cache":
		if err := deps.Cache.Purge(ctx); err != nil {
			return fmt.Errorf("purging cache: %w", err)
		}
		fmt.Fprintln(stdout, "embedding cache purged")
		return nil
	default:
		return fmt.Errorf("unknown command %q (run 'embedgen help')", args[0])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `embedgen - quantized embedding artifacts

Usage:
  embedgen                       Write the example artifacts doc1.json and doc2.json to OUTPUT_DIR
  embedgen gen -text T -out P    Embed one text and write its artifact
  embedgen batch -manifest F     Generate every job in a .json, .yaml or .toml manifest
  embedgen verify A B            Compare two artifacts by cosine similarity
  embedgen search -dir D -query T
                                 Rank the artifacts in D against a text
  embedgen purge-cache           Drop all cached embeddings
  embedgen version               Show version info
  embedgen help                  Show this help

Gen options:
  -scale int        Quantization scale (default QUANT_SCALE)
  -envelope         Write {"scale","model","values"} instead of a bare array

Batch options:
  -workers int      Concurrent jobs (default WORKERS)

Verify options:
  -threshold float  Similarity a pair must exceed (default SIMILARITY_THRESHOLD)
  -json             Print the result as JSON

Search options:
  -k int            Number of results (default 5)

Configuration is read from the environment and an optional .env file.`)
}

// generator returns the configured generator, or a copy with different
// scale/envelope settings.
func (c *cli) generator(scale int, envelope bool) *generate.Generator {
	if scale == c.deps.Generator.Scale() && envelope == c.deps.Config.ArtifactEnvelope {
		return c.deps.Generator
	}
	return generate.New(c.deps.Embedder, generate.Options{
		Scale:    scale,
		Envelope: envelope,
		Model:    app.ModelName(c.deps.Config),
	}, c.deps.Log)
}

func (c *cli) runExamples(ctx context.Context) error {
	dir := c.deps.Config.OutputDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	return c.generateJobs(ctx, c.deps.Generator, generate.ExampleJobs(dir), c.deps.Config.Workers)
}

func (c *cli) runGen(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("gen", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	text := fs.String("text", "", "Text to embed")
	out := fs.String("out", "", "Artifact path")
	scale := fs.Int("scale", c.deps.Config.QuantScale, "Quantization scale")
	envelope := fs.Bool("envelope", c.deps.Config.ArtifactEnvelope, "Write an envelope artifact")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("gen: %w", err)
	}
	if *text == "" || *out == "" {
		return errors.New("usage: embedgen gen -text \"...\" -out path.json")
	}
	if *scale <= 0 {
		return fmt.Errorf("%w: scale must be positive, got %d", codec.ErrInvalidInput, *scale)
	}

	g := c.generator(*scale, *envelope)
	return c.generateJobs(ctx, g, []generate.Job{{Text: *text, Path: *out}}, 1)
}

func (c *cli) runBatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	manifest := fs.String("manifest", "", "Manifest file")
	workers := fs.Int("workers", c.deps.Config.Workers, "Concurrent jobs")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	if *manifest == "" {
		return errors.New("usage: embedgen batch -manifest jobs.yaml")
	}
	jobs, err := generate.LoadManifest(*manifest)
	if err != nil {
		return err
	}
	return c.generateJobs(ctx, c.deps.Generator, jobs, *workers)
}

// generateJobs writes every job, registers the successful ones and prints a
// line per artifact.
func (c *cli) generateJobs(ctx context.Context, g *generate.Generator, jobs []generate.Job, workers int) error {
	results, err := g.GenerateAll(ctx, jobs, workers)
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(c.out, "FAIL %s: %v\n", r.Job.Path, r.Err)
			continue
		}
		c.register(ctx, g.Scale(), r)
		fmt.Fprintf(c.out, "wrote %s (%d values)\n", r.Job.Path, len(r.Values))
	}
	return err
}

func (c *cli) register(ctx context.Context, scale int, r generate.Result) {
	name := strings.TrimSuffix(filepath.Base(r.Job.Path), filepath.Ext(r.Job.Path))
	a, err := c.deps.Store.CreateArtifact(ctx, name, r.Job.Path, scale)
	if err == nil {
		err = c.deps.Store.CompleteArtifact(ctx, a.ID, app.ModelName(c.deps.Config), r.Values)
	}
	if err != nil {
		c.deps.Log.Warn("failed to register artifact", "path", r.Job.Path, "err", err)
	}
}

func (c *cli) runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	threshold := fs.Float64("threshold", c.deps.Config.SimilarityThreshold, "Match threshold")
	asJSON := fs.Bool("json", false, "Print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if fs.NArg() != 2 {
		return errors.New("usage: embedgen verify [-threshold 0.8] a.json b.json")
	}

	res, err := verify.CompareFiles(fs.Arg(0), fs.Arg(1), *threshold)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	verdict := "no match"
	if res.Match {
		verdict = "match"
	}
	fmt.Fprintf(c.out, "similarity %.6f (threshold %.2f): %s\n", res.Similarity, res.Threshold, verdict)
	return nil
}

func (c *cli) runSearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dir := fs.String("dir", c.deps.Config.OutputDir, "Artifact directory")
	query := fs.String("query", "", "Text to search for")
	k := fs.Int("k", 5, "Number of results")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if *query == "" {
		return errors.New("usage: embedgen search -dir embeddings -query \"...\"")
	}

	ix := index.New()
	skipped, err := ix.LoadDir(*dir)
	if err != nil {
		return fmt.Errorf("loading artifacts: %w", err)
	}
	for _, p := range skipped {
		c.deps.Log.Debug("skipped non-artifact file", "path", p)
	}
	if ix.Len() == 0 {
		fmt.Fprintf(c.out, "no artifacts in %s\n", *dir)
		return nil
	}

	vec, err := c.deps.Embedder.Embed(ctx, *query)
	if err != nil {
		return fmt.Errorf("embedding query: %w", err)
	}
	q, err := codec.Quantize([]float32(vec), c.deps.Config.QuantScale)
	if err != nil {
		return err
	}
	hits, err := ix.Search(q, *k)
	if err != nil {
		return err
	}
	for i, h := range hits {
		fmt.Fprintf(c.out, "%d. %s  %.4f\n", i+1, h.Name, h.Similarity)
	}
	return nil
}
