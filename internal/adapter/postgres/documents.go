package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"docrag/backend/internal/retrieval"
)

// DocumentRepo reads and writes documents in the documents table.
type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// GetActiveDocuments lists active documents, restricted to ids when ids is
// non-nil.
func (r *DocumentRepo) GetActiveDocuments(ctx context.Context, ids []string) ([]retrieval.Document, error) {
	if ids != nil && len(ids) == 0 {
		return []retrieval.Document{}, nil
	}

	var (
		rows *sql.Rows
		err  error
	)
	if ids == nil {
		query := `SELECT id, title, content, is_active, content_type FROM documents WHERE is_active = TRUE ORDER BY created_at, id`
		rows, err = r.db.QueryContext(ctx, query)
	} else {
		query := `SELECT id, title, content, is_active, content_type FROM documents WHERE is_active = TRUE AND id = ANY($1) ORDER BY created_at, id`
		rows, err = r.db.QueryContext(ctx, query, pq.Array(ids))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []retrieval.Document
	for rows.Next() {
		var d retrieval.Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Content, &d.IsActive, &d.ContentType); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *DocumentRepo) Save(ctx context.Context, d *retrieval.Document) error {
	query := `INSERT INTO documents (id, title, content, is_active, content_type) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, content = EXCLUDED.content, is_active = EXCLUDED.is_active, content_type = EXCLUDED.content_type, updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, query, d.ID, d.Title, d.Content, d.IsActive, d.ContentType)
	return err
}

func (r *DocumentRepo) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE documents SET is_active = $1, updated_at = NOW() WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, active, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
