package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"docrag/backend/internal/settings"
)

const DefaultModel = "gemini-embedding-001"

var (
	ErrNoAPIKey       = errors.New("gemini api key not configured")
	ErrEmptyEmbedding = errors.New("empty embedding received")
)

// KeySource yields the API key for the next request.
type KeySource func(ctx context.Context) (string, error)

func StaticKey(key string) KeySource {
	return func(context.Context) (string, error) { return key, nil }
}

// SettingsKey reads the key from persisted settings, falling back to the
// configured key when none is stored.
func SettingsKey(svc *settings.Service, fallback string) KeySource {
	return func(ctx context.Context) (string, error) {
		s, err := svc.Get(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to get settings: %w", err)
		}
		if s != nil && s.GeminiAPIKey != "" {
			return s.GeminiAPIKey, nil
		}
		return fallback, nil
	}
}

// Embedder embeds queries with the Gemini embedding API. The underlying
// client is rebuilt whenever the key changes; a replaced client is closed once
// the calls still using it return.
type Embedder struct {
	keys       KeySource
	model      string
	clientOpts []option.ClientOption

	mu         sync.Mutex
	client     *sharedClient
	currentKey string
}

// sharedClient counts the calls holding a client.
type sharedClient struct {
	client *genai.Client
	users  sync.WaitGroup
}

func (c *sharedClient) release() {
	c.users.Done()
}

// retire closes the client after its last user releases it.
func (c *sharedClient) retire() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.users.Wait()
		if err := c.client.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}()
	return done
}

func NewEmbedder(keys KeySource, model string, opts ...option.ClientOption) *Embedder {
	if model == "" {
		model = DefaultModel
	}
	return &Embedder{keys: keys, model: model, clientOpts: opts}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key, err := e.keys(ctx)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, ErrNoAPIKey
	}

	client, err := e.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer client.release()

	slog.DebugContext(ctx, "embedding query", "model", e.model, "length", len(text))
	res, err := client.client.EmbeddingModel(e.model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return res.Embedding.Values, nil
}

// acquire returns the client for key and registers the caller as a user.
// Callers must release it.
func (e *Embedder) acquire(ctx context.Context, key string) (*sharedClient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client == nil || e.currentKey != key {
		opts := append([]option.ClientOption{}, e.clientOpts...)
		opts = append(opts, option.WithAPIKey(key))
		client, err := genai.NewClient(ctx, opts...)
		if err != nil {
			return nil, err
		}
		if e.client != nil {
			e.client.retire()
		}
		e.client = &sharedClient{client: client}
		e.currentKey = key
	}

	e.client.users.Add(1)
	return e.client, nil
}

// Close closes the current client once in-flight calls finish.
func (e *Embedder) Close() error {
	e.mu.Lock()
	current := e.client
	e.client = nil
	e.currentKey = ""
	e.mu.Unlock()

	if current == nil {
		return nil
	}
	current.users.Wait()
	return current.client.Close()
}
