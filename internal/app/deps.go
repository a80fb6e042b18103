package app

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/v3"

	"embed-artifacts/internal/cache"
	"embed-artifacts/internal/config"
	"embed-artifacts/internal/embeddings"
	"embed-artifacts/internal/generate"
	"embed-artifacts/internal/logger"
	"embed-artifacts/internal/queue"
	"embed-artifacts/internal/retry"
	"embed-artifacts/internal/store"
)

// Deps bundles common runtime dependencies. The embedder is built once here
// and handed to whoever needs it.
type Deps struct {
	Config    config.Config
	Log       *slog.Logger
	Embedder  embeddings.Embedder
	Cache     cache.Cache
	Store     store.Store
	Queue     queue.Queue
	Generator *generate.Generator

	closers []func() error
}

// Build loads env and config and wires everything the services need,
// including the NATS queue.
func Build() (Deps, error) {
	cfg, err := loadConfig()
	if err != nil {
		return Deps{}, err
	}
	log := logger.New(cfg.LogLevel)

	deps, err := buildCore(cfg, log)
	if err != nil {
		return Deps{}, err
	}
	q, nc, err := buildQueue(cfg, log)
	if err != nil {
		deps.Close()
		return Deps{}, fmt.Errorf("failed to initialize queue: %w", err)
	}
	deps.Queue = q
	deps.closers = append(deps.closers, func() error { nc.Close(); return nil })
	return deps, nil
}

// BuildLocal wires the CLI: no queue, and logs go to w.
func BuildLocal(w io.Writer) (Deps, error) {
	cfg, err := loadConfig()
	if err != nil {
		return Deps{}, err
	}
	return buildCore(cfg, logger.NewWithWriter(w, cfg.LogLevel))
}

// Close releases cache, store and queue connections.
func (d Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && d.Log != nil {
			d.Log.Warn("failed to close dependency", "err", err)
		}
	}
}

func loadConfig() (config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config.Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildCore wires everything except the queue.
func buildCore(cfg config.Config, log *slog.Logger) (Deps, error) {
	deps := Deps{Config: cfg, Log: log}

	c := buildCache(cfg, log)
	deps.Cache = c
	deps.closers = append(deps.closers, c.Close)

	st, err := buildStore(cfg, log)
	if err != nil {
		deps.Close()
		return Deps{}, fmt.Errorf("failed to initialize store: %w", err)
	}
	deps.Store = st
	deps.closers = append(deps.closers, st.Close)

	base, err := buildEmbedder(cfg, log)
	if err != nil {
		deps.Close()
		return Deps{}, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	deps.Embedder = base
	if cfg.CacheProvider != "none" {
		deps.Embedder = embeddings.NewCachedEmbedder(base, c, ModelName(cfg), cfg.CacheTTLDuration(), log)
	}

	deps.Generator = generate.New(deps.Embedder, generate.Options{
		Scale:    cfg.QuantScale,
		Envelope: cfg.ArtifactEnvelope,
		Model:    ModelName(cfg),
		Retry:    retry.Default,
	}, log)
	return deps, nil
}

// ModelName is the model recorded in envelopes, cache keys and the registry.
func ModelName(cfg config.Config) string {
	if cfg.EmbedderProvider == "stub" {
		return fmt.Sprintf("stub-%d", cfg.EmbeddingDimensions)
	}
	return cfg.EmbeddingModel
}

func buildCache(cfg config.Config, log *slog.Logger) cache.Cache {
	switch cfg.CacheProvider {
	case "redis":
		c, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Warn("redis unavailable, embedding cache disabled", "addr", cfg.RedisAddr, "err", err)
			return cache.NewNoOpCache()
		}
		log.Info("using Redis embedding cache", "addr", cfg.RedisAddr)
		return c
	case "memory":
		log.Debug("using in-memory embedding cache")
		return cache.NewMemoryCache(cfg.CacheTTLDuration())
	default:
		return cache.NewNoOpCache()
	}
}

func buildStore(cfg config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreProvider {
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("DB_URL is required when STORE_PROVIDER=postgres")
		}
		db, err := store.NewPostgres(cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		log.Info("using Postgres store")
		return db, nil
	case "sqlite":
		db, err := store.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info("using SQLite store", "path", cfg.SQLitePath)
		return db, nil
	case "memory":
		log.Debug("using in-memory store")
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("invalid STORE_PROVIDER: %s (valid options: memory, sqlite, postgres)", cfg.StoreProvider)
	}
}

func buildQueue(cfg config.Config, log *slog.Logger) (queue.Queue, *nats.Conn, error) {
	switch cfg.QueueProvider {
	case "nats":
		if cfg.QueueURL == "" {
			return nil, nil, fmt.Errorf("QUEUE_URL is required when QUEUE_PROVIDER=nats")
		}
		nc, err := nats.Connect(cfg.QueueURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Info("using NATS queue")
		return queue.NewNATS(log, nc), nc, nil
	default:
		return nil, nil, fmt.Errorf("invalid QUEUE_PROVIDER: %s (valid option: nats)", cfg.QueueProvider)
	}
}

func buildEmbedder(cfg config.Config, log *slog.Logger) (embeddings.Embedder, error) {
	switch cfg.EmbedderProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when EMBEDDER_PROVIDER=openai")
		}
		embedder, err := embeddings.NewOpenAIEmbedder(cfg.OpenAIKey, cfg.OpenAIBaseURL, openai.EmbeddingModel(cfg.EmbeddingModel))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI embedder: %w", err)
		}
		log.Info("using OpenAI embedder", "model", cfg.EmbeddingModel)
		return embedder, nil
	case "ollama":
		log.Info("using Ollama embedder", "url", cfg.OllamaURL, "model", cfg.EmbeddingModel)
		return embeddings.NewOllamaEmbedder(cfg.OllamaURL, cfg.EmbeddingModel), nil
	case "stub":
		log.Info("using stub embedder", "dimensions", cfg.EmbeddingDimensions)
		return embeddings.NewStubEmbedder(cfg.EmbeddingDimensions), nil
	default:
		return nil, fmt.Errorf("invalid EMBEDDER_PROVIDER: %s (valid options: openai, ollama, stub)", cfg.EmbedderProvider)
	}
}
