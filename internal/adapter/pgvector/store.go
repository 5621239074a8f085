// Package pgvector serves chunk embeddings from PostgreSQL with the pgvector
// extension.
package pgvector

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"docrag/backend/internal/retrieval"
)

var identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type Config struct {
	ConnString string
	TableName  string
	VectorDim  int
}

type Store struct {
	pool  *pgxpool.Pool
	table string
	dim   int
}

// New connects to the database and ensures the chunk table and its cosine
// index exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.TableName == "" {
		cfg.TableName = "document_chunks"
	}
	if cfg.VectorDim == 0 {
		cfg.VectorDim = 768
	}
	if !identifierRe.MatchString(cfg.TableName) {
		return nil, fmt.Errorf("invalid table name %q", cfg.TableName)
	}

	pool, err := pgxpool.New(ctx, cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{pool: pool, table: cfg.TableName, dim: cfg.VectorDim}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the vector extension, chunk table and cosine index if
// they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		chunk_text TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		embedding vector(%d),
		PRIMARY KEY (document_id, chunk_index)
	)`, s.table, s.dim)
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s USING hnsw (embedding vector_cosine_ops)`, s.table, s.table)
	if _, err := s.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// PutChunk inserts or replaces one chunk.
func (s *Store) PutChunk(ctx context.Context, c retrieval.Chunk, title string, active bool) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (document_id, chunk_index, chunk_text, title, is_active, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (document_id, chunk_index) DO UPDATE SET
			chunk_text = EXCLUDED.chunk_text,
			title = EXCLUDED.title,
			is_active = EXCLUDED.is_active,
			embedding = EXCLUDED.embedding`, s.table)

	var embedding any
	if len(c.Embedding) > 0 {
		embedding = pgvector.NewVector(c.Embedding)
	}

	_, err := s.pool.Exec(ctx, stmt,
		c.DocumentID,
		c.ChunkIndex,
		sanitizeUTF8(c.ChunkText),
		sanitizeUTF8(title),
		active,
		embedding,
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}
	return nil
}

// Search orders chunks by cosine distance to vec. Score is 1 - distance.
// Chunks stored without an embedding are never returned.
func (s *Store) Search(ctx context.Context, vec []float32, f retrieval.Filter, limit int) ([]retrieval.ScoredChunk, error) {
	if f.DocumentIDs != nil && len(f.DocumentIDs) == 0 {
		return []retrieval.ScoredChunk{}, nil
	}

	query := fmt.Sprintf(`SELECT document_id, title, chunk_index, chunk_text, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE embedding IS NOT NULL
		  AND ($2 = FALSE OR is_active)
		  AND ($3::text[] IS NULL OR document_id = ANY($3))
		ORDER BY embedding <=> $1
		LIMIT $4`, s.table)

	var ids []string
	if f.DocumentIDs != nil {
		ids = f.DocumentIDs
	}

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(vec), f.ActiveOnly, ids, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var out []retrieval.ScoredChunk
	for rows.Next() {
		var sc retrieval.ScoredChunk
		if err := rows.Scan(&sc.DocumentID, &sc.Title, &sc.ChunkIndex, &sc.ChunkText, &sc.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) ChunksForDocument(ctx context.Context, documentID string) ([]retrieval.Chunk, error) {
	query := fmt.Sprintf(`SELECT document_id, chunk_index, chunk_text FROM %s
		WHERE document_id = $1 ORDER BY chunk_index`, s.table)
	rows, err := s.pool.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	return collectChunks(rows)
}

func (s *Store) ChunkRange(ctx context.Context, documentID string, from, to int) ([]retrieval.Chunk, error) {
	query := fmt.Sprintf(`SELECT document_id, chunk_index, chunk_text FROM %s
		WHERE document_id = $1 AND chunk_index BETWEEN $2 AND $3 ORDER BY chunk_index`, s.table)
	rows, err := s.pool.Query(ctx, query, documentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk range: %w", err)
	}
	return collectChunks(rows)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func collectChunks(rows pgx.Rows) ([]retrieval.Chunk, error) {
	defer rows.Close()
	var chunks []retrieval.Chunk
	for rows.Next() {
		var c retrieval.Chunk
		if err := rows.Scan(&c.DocumentID, &c.ChunkIndex, &c.ChunkText); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// sanitizeUTF8 drops invalid bytes, which PostgreSQL rejects in TEXT columns.
func sanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "")
}
