package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms/ollama"
)

const (
	DefaultModel     = "nomic-embed-text:latest"
	DefaultServerURL = "http://localhost:11434"
)

var ErrEmptyEmbedding = errors.New("ollama returned no embedding")

type Config struct {
	Model     string
	ServerURL string
}

// Embedder embeds queries against a local Ollama server.
type Embedder struct {
	llm   *ollama.LLM
	model string
}

func NewEmbedder(cfg Config) (*Embedder, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}

	llm, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.ServerURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama client: %w", err)
	}
	return &Embedder{llm: llm, model: cfg.Model}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding query", "provider", "ollama", "model", e.model, "length", len(text))

	embeddings, err := e.llm.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return embeddings[0], nil
}
