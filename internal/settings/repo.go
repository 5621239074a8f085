package settings

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context) (*Settings, error) {
	s := &Settings{}
	query := `SELECT id, gemini_api_key, search_limit, max_context_length, expansion_window FROM settings WHERE id = 1`
	err := r.db.QueryRowContext(ctx, query).Scan(&s.ID, &s.GeminiAPIKey, &s.SearchLimit, &s.MaxContextLength, &s.ExpansionWindow)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepo) Update(ctx context.Context, s *Settings) error {
	query := `UPDATE settings SET gemini_api_key = $1, search_limit = $2, max_context_length = $3, expansion_window = $4, updated_at = NOW() WHERE id = 1`
	_, err := r.db.ExecContext(ctx, query, s.GeminiAPIKey, s.SearchLimit, s.MaxContextLength, s.ExpansionWindow)
	return err
}
