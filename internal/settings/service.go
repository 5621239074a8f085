package settings

import (
	"context"
)

// Settings holds the retrieval tunables persisted in the settings table.
type Settings struct {
	ID               int    `json:"-"`
	GeminiAPIKey     string `json:"gemini_api_key"`
	SearchLimit      int    `json:"search_limit"`
	MaxContextLength int    `json:"max_context_length"`
	ExpansionWindow  int    `json:"expansion_window"`
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	return s.repo.Update(ctx, set)
}
