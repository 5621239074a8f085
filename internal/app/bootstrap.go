package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"docrag/backend/internal/adapter/pgvector"
	wstore "docrag/backend/internal/adapter/weaviate"
	"docrag/backend/internal/config"
	"docrag/backend/internal/retrieval"
)

// VectorStore is a vector backend usable for both search and expansion.
type VectorStore interface {
	retrieval.VectorIndex
	retrieval.ChunkStore
	EnsureSchema(ctx context.Context) error
}

type Dependencies struct {
	DB          *sql.DB
	VectorStore VectorStore
	// NSQProducer is nil unless query events are enabled.
	NSQProducer *nsq.Producer

	closers []func()
}

func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	deps := &Dependencies{}

	db, err := openDB(ctx, cfg.DSN(), cfg.BootstrapRetryAttempts, retryDelay)
	if err != nil {
		return nil, err
	}
	deps.DB = db
	deps.closers = append(deps.closers, func() { _ = db.Close() })

	if err := runMigrations(db, cfg.MigrationPath); err != nil {
		deps.Close()
		return nil, err
	}
	slog.InfoContext(ctx, "migrations applied successfully")

	vecStore, closeStore, err := newVectorStore(ctx, cfg)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.VectorStore = vecStore
	if closeStore != nil {
		deps.closers = append(deps.closers, closeStore)
	}

	if err := EnsureSchemaWithRetry(ctx, vecStore, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		deps.Close()
		return nil, fmt.Errorf("%s schema error: %w", cfg.VectorBackend, err)
	}

	if cfg.EnableQueryEvents {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		deps.NSQProducer = producer
		deps.closers = append(deps.closers, producer.Stop)

		go func() {
			if err := createTopic(context.WithoutCancel(ctx), cfg.NSQDHTTP, config.TopicRetrievalQuery); err != nil {
				slog.Warn("failed to create NSQ topic", "topic", config.TopicRetrievalQuery, "error", err)
			}
		}()
	}

	return deps, nil
}

func openDB(ctx context.Context, dsn string, attempts int, delay time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return db, nil
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1, "max_attempts", attempts)
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	if err == nil {
		err = db.PingContext(ctx)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return db, nil
}

func runMigrations(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	return nil
}

// newVectorStore builds the configured backend. The returned close func may
// be nil.
func newVectorStore(ctx context.Context, cfg *config.Config) (VectorStore, func(), error) {
	switch cfg.VectorBackend {
	case config.VectorBackendPGVector:
		store, err := pgvector.New(ctx, pgvector.Config{
			ConnString: cfg.DSN(),
			TableName:  cfg.PGVectorTable,
			VectorDim:  cfg.PGVectorDim,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("pgvector store error: %w", err)
		}
		return store, store.Close, nil
	default:
		client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, nil, fmt.Errorf("weaviate client error: %w", err)
		}
		return wstore.NewStore(client), nil, nil
	}
}

// createTopic asks nsqd to create topic so consumers can subscribe before the
// first query is published.
func createTopic(ctx context.Context, nsqdHTTP, topic string) error {
	endpoint := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, url.QueryEscape(topic))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nsqd returned status %d", resp.StatusCode)
	}
	return nil
}

func EnsureSchemaWithRetry(ctx context.Context, store VectorStore, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureSchema(ctx); err == nil {
			return nil
		}
		slog.Warn("failed to ensure vector schema, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}
