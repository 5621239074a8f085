package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"docrag/backend/features/mcp"
	"docrag/backend/features/retrieve"
	"docrag/backend/internal/adapter/gemini"
	"docrag/backend/internal/adapter/ollama"
	"docrag/backend/internal/adapter/postgres"
	"docrag/backend/internal/adapter/throttle"
	"docrag/backend/internal/config"
	"docrag/backend/internal/middleware"
	"docrag/backend/internal/retrieval"
	"docrag/backend/internal/settings"
)

type App struct {
	Handler http.Handler
	Service *retrieval.Service

	port int
}

// Options overrides parts of the wiring, mainly for tests.
type Options struct {
	Embedder       retrieval.Embedder
	QueryLogWriter io.Writer
}

// New wires the retrieval service and HTTP routes. pub may be nil, in which
// case query events are only written to the query log.
func New(cfg *config.Config, db *sql.DB, vecStore VectorStore, pub retrieval.Publisher, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	settingsService := settings.NewService(settings.NewPostgresRepo(db))
	seedGeminiKey(settingsService, cfg.GeminiAPIKey)

	embedder := opts.Embedder
	if embedder == nil {
		e, err := newEmbedder(cfg, settingsService)
		if err != nil {
			return nil, err
		}
		embedder = throttle.New(e, cfg.EmbedRateLimit, cfg.EmbedBurst)
	}

	documents := postgres.NewDocumentRepo(db)
	timeout := cfg.ExternalCallTimeout()
	retriever := retrieval.NewHybridRetriever(embedder, vecStore, documents, timeout)
	expander := retrieval.NewContextExpander(vecStore, timeout)

	queryLogger := newQueryLogger(cfg.QueryLogPath, opts.QueryLogWriter)
	if pub != nil {
		queryLogger = queryLogger.WithPublisher(pub, config.TopicRetrievalQuery)
	}

	retrievalService := retrieval.NewService(retriever, expander, settingsService, queryLogger)

	settingsHandler := settings.NewHandler(settingsService)
	retrieveHandler := retrieve.NewHandler(retrievalService)
	mcpHandler := mcp.NewHandler(retrievalService, documents)

	mux := http.NewServeMux()

	mux.Handle("POST /context", middleware.CorrelationID(middleware.CORS(retrieveHandler.Context)))
	mux.Handle("POST /search", middleware.CorrelationID(middleware.CORS(retrieveHandler.Search)))
	mux.Handle("OPTIONS /context", middleware.CORS(retrieveHandler.Context))
	mux.Handle("OPTIONS /search", middleware.CORS(retrieveHandler.Search))

	mux.Handle("GET /settings", middleware.CorrelationID(middleware.CORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(middleware.CORS(settingsHandler.UpdateSettings)))

	mux.Handle("POST /mcp", middleware.CorrelationID(mcpHandler))
	mux.Handle("GET /mcp/sse", middleware.CorrelationID(middleware.CORS(mcpHandler.HandleSSE)))
	mux.Handle("POST /mcp/messages", middleware.CorrelationID(middleware.CORS(mcpHandler.HandleMessage)))

	mux.HandleFunc("GET /health", healthHandler(db))

	return &App{
		Handler: mux,
		Service: retrievalService,
		port:    cfg.ServerPort,
	}, nil
}

func newEmbedder(cfg *config.Config, settingsService *settings.Service) (retrieval.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case config.EmbeddingProviderOllama:
		e, err := ollama.NewEmbedder(ollama.Config{Model: cfg.OllamaModel, ServerURL: cfg.OllamaURL})
		if err != nil {
			return nil, fmt.Errorf("ollama embedder error: %w", err)
		}
		return e, nil
	default:
		return gemini.NewEmbedder(gemini.SettingsKey(settingsService, cfg.GeminiAPIKey), cfg.GeminiModel), nil
	}
}

// seedGeminiKey stores key in settings when no key has been saved yet.
func seedGeminiKey(svc *settings.Service, key string) {
	if key == "" {
		return
	}
	ctx := context.Background()
	set, err := svc.Get(ctx)
	if err != nil {
		slog.Warn("failed to fetch settings for seeding", "error", err)
		return
	}
	if set.GeminiAPIKey != "" {
		return
	}
	set.GeminiAPIKey = key
	if err := svc.Update(ctx, set); err != nil {
		slog.Warn("failed to seed gemini api key", "error", err)
		return
	}
	slog.Info("seeded gemini api key from environment")
}

func newQueryLogger(path string, w io.Writer) *retrieval.QueryLogger {
	if w != nil {
		return retrieval.NewQueryLogger(w)
	}
	l, err := retrieval.NewFileQueryLogger(path)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		return retrieval.NewQueryLogger(os.Stdout)
	}
	return l
}

func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			slog.WarnContext(ctx, "health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
