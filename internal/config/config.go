package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration for every binary in the module.
type Config struct {
	// Server
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Upload limits
	MaxUploadSize int64 `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"` // 10MB in bytes

	// Artifacts
	OutputDir           string  `env:"OUTPUT_DIR" envDefault:"embeddings"`
	QuantScale          int     `env:"QUANT_SCALE" envDefault:"1000"`
	ArtifactEnvelope    bool    `env:"ARTIFACT_ENVELOPE" envDefault:"false"`
	SimilarityThreshold float64 `env:"SIMILARITY_THRESHOLD" envDefault:"0.8"`

	// Embeddings
	EmbedderProvider    string `env:"EMBEDDER_PROVIDER" envDefault:"stub"` // "openai", "ollama" or "stub"
	OpenAIKey           string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `env:"OPENAI_BASE_URL"`
	OllamaURL           string `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	EmbeddingModel      string `env:"EMBEDDING_MODEL" envDefault:"all-minilm"`
	EmbeddingDimensions int    `env:"EMBEDDING_DIMENSIONS" envDefault:"384"`

	// Cache
	CacheProvider string `env:"CACHE_PROVIDER" envDefault:"memory"` // "none", "memory" or "redis"
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	CacheTTL      int    `env:"CACHE_TTL" envDefault:"86400"` // seconds

	// Store
	StoreProvider string `env:"STORE_PROVIDER" envDefault:"memory"` // "memory", "sqlite" or "postgres"
	DBURL         string `env:"DB_URL"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"artifacts.db"`

	// Queue
	QueueProvider string `env:"QUEUE_PROVIDER" envDefault:"nats"`
	QueueURL      string `env:"QUEUE_URL"`
	Workers       int    `env:"WORKERS" envDefault:"4"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}

// CacheTTLDuration returns CacheTTL as a duration.
func (c Config) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// Validate reports every setting that cannot work, joined into one error.
func (c Config) Validate() error {
	var errs []error
	if c.QuantScale <= 0 {
		errs = append(errs, fmt.Errorf("QUANT_SCALE must be positive, got %d", c.QuantScale))
	}
	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("SIMILARITY_THRESHOLD must be in [-1, 1], got %v", c.SimilarityThreshold))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("WORKERS must be positive, got %d", c.Workers))
	}
	switch c.EmbedderProvider {
	case "openai":
		if c.OpenAIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai embedder"))
		}
	case "ollama", "stub":
	default:
		errs = append(errs, fmt.Errorf("unknown EMBEDDER_PROVIDER %q", c.EmbedderProvider))
	}
	switch c.CacheProvider {
	case "none", "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown CACHE_PROVIDER %q", c.CacheProvider))
	}
	switch c.StoreProvider {
	case "memory", "sqlite":
	case "postgres":
		if c.DBURL == "" {
			errs = append(errs, errors.New("DB_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_PROVIDER %q", c.StoreProvider))
	}
	if c.QueueProvider != "nats" {
		errs = append(errs, fmt.Errorf("unknown QUEUE_PROVIDER %q", c.QueueProvider))
	}
	return errors.Join(errs...)
}
