package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	VectorBackendWeaviate = "weaviate"
	VectorBackendPGVector = "pgvector"

	EmbeddingProviderGemini = "gemini"
	EmbeddingProviderOllama = "ollama"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"docrag"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"docrag"`

	// Vector index
	VectorBackend  string `envconfig:"VECTOR_BACKEND" default:"weaviate"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	PGVectorTable  string `envconfig:"PGVECTOR_TABLE" default:"document_chunks"`
	PGVectorDim    int    `envconfig:"PGVECTOR_DIM" default:"768"`

	// Embeddings
	EmbeddingProvider string  `envconfig:"EMBEDDING_PROVIDER" default:"gemini"`
	GeminiAPIKey      string  `envconfig:"GEMINI_API_KEY"`
	GeminiModel       string  `envconfig:"GEMINI_EMBEDDING_MODEL" default:"gemini-embedding-001"`
	OllamaURL         string  `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	OllamaModel       string  `envconfig:"OLLAMA_MODEL" default:"nomic-embed-text:latest"`
	EmbedRateLimit    float64 `envconfig:"EMBED_RATE_LIMIT" default:"10"`
	EmbedBurst        int     `envconfig:"EMBED_BURST" default:"5"`

	// ExternalCallTimeoutMs bounds each embed, search and fetch call. Zero
	// disables the per-call timeout.
	ExternalCallTimeoutMs int `envconfig:"EXTERNAL_CALL_TIMEOUT_MS" default:"10000"`

	// Query events
	NSQDHost          string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP          string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	EnableQueryEvents bool   `envconfig:"ENABLE_QUERY_EVENTS" default:"false"`

	// Server
	ServerPort    int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath  string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	LogFormat     string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell win; a missing .env is fine.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	switch c.VectorBackend {
	case VectorBackendWeaviate:
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	case VectorBackendPGVector:
		if c.PGVectorDim <= 0 {
			return fmt.Errorf("%w: PGVECTOR_DIM must be positive", ErrInvalidValue)
		}
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND %q", ErrInvalidValue, c.VectorBackend)
	}

	switch c.EmbeddingProvider {
	case EmbeddingProviderGemini:
	case EmbeddingProviderOllama:
		if c.OllamaURL == "" {
			return fmt.Errorf("%w: OLLAMA_URL", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: EMBEDDING_PROVIDER %q", ErrInvalidValue, c.EmbeddingProvider)
	}

	if c.ExternalCallTimeoutMs < 0 {
		return fmt.Errorf("%w: EXTERNAL_CALL_TIMEOUT_MS must not be negative", ErrInvalidValue)
	}
	return nil
}

// DSN is the lib/pq and pgx connection string for the configured database.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}

func (c *Config) ExternalCallTimeout() time.Duration {
	return time.Duration(c.ExternalCallTimeoutMs) * time.Millisecond
}
