package retrieval

import (
	"context"
	"time"
	"unicode/utf8"

	"docrag/backend/internal/middleware"
	"docrag/backend/internal/settings"
)

const DefaultSearchLimit = 5

type SearchOptions struct {
	Limit *int
}

type ContextOptions struct {
	Limit            *int
	MaxContextLength *int
	Window           *int
}

type Service struct {
	retriever *HybridRetriever
	expander  *ContextExpander
	assembler ContextAssembler
	settings  *settings.Service
	logger    *QueryLogger
}

func NewService(r *HybridRetriever, e *ContextExpander, set *settings.Service, l *QueryLogger) *Service {
	return &Service{retriever: r, expander: e, settings: set, logger: l}
}

type resolved struct {
	limit            int
	maxContextLength int
	window           int
}

// resolve merges persisted settings with defaults. Settings failures fall back
// to defaults.
func (s *Service) resolve(ctx context.Context) resolved {
	out := resolved{
		limit:            DefaultSearchLimit,
		maxContextLength: DefaultMaxContextLength,
		window:           DefaultWindow,
	}
	if s.settings == nil {
		return out
	}
	cfg, err := s.settings.Get(ctx)
	if err != nil || cfg == nil {
		return out
	}
	if cfg.SearchLimit > 0 {
		out.limit = cfg.SearchLimit
	}
	if cfg.MaxContextLength > 0 {
		out.maxContextLength = cfg.MaxContextLength
	}
	if cfg.ExpansionWindow >= 0 {
		out.window = cfg.ExpansionWindow
	}
	return out
}

// Search returns the ranked hits for query without expansion or assembly.
func (s *Service) Search(ctx context.Context, query string, docs DocumentSet, opts *SearchOptions) ([]SearchHit, error) {
	start := time.Now()
	limit := s.resolve(ctx).limit
	if opts != nil && opts.Limit != nil {
		limit = *opts.Limit
	}

	hits, err := s.retriever.Retrieve(ctx, query, docs, limit)
	if err != nil {
		return nil, err
	}

	s.log(ctx, QueryLogEntry{Operation: "search", Query: query, NumResults: len(hits), Duration: time.Since(start)}, hits)
	return hits, nil
}

// RetrieveContext retrieves, expands and assembles the context for query.
func (s *Service) RetrieveContext(ctx context.Context, query string, docs DocumentSet, opts *ContextOptions) (*AssembledContext, error) {
	start := time.Now()
	cfg := s.resolve(ctx)
	if opts != nil {
		if opts.Limit != nil {
			cfg.limit = *opts.Limit
		}
		if opts.MaxContextLength != nil {
			cfg.maxContextLength = *opts.MaxContextLength
		}
		if opts.Window != nil {
			cfg.window = *opts.Window
		}
	}

	hits, err := s.retriever.Retrieve(ctx, query, docs, cfg.limit)
	if err != nil {
		return nil, err
	}

	if s.expander != nil && len(hits) > 0 {
		hits = s.expander.ExpandAll(ctx, hits, cfg.window)
	}

	assembled := s.assembler.Assemble(hits, cfg.maxContextLength)

	s.log(ctx, QueryLogEntry{
		Operation:     "context",
		Query:         query,
		NumResults:    len(hits),
		NumSources:    len(assembled.Sources),
		ContextLength: utf8.RuneCountInString(assembled.Text),
		Duration:      time.Since(start),
	}, hits)
	return &assembled, nil
}

func (s *Service) log(ctx context.Context, entry QueryLogEntry, hits []SearchHit) {
	if s.logger == nil {
		return
	}
	for _, h := range hits {
		switch h.Match.(type) {
		case VectorMatch:
			entry.VectorHits++
		case KeywordMatch:
			entry.KeywordHits++
		}
	}
	entry.CorrelationID = middleware.GetCorrelationID(ctx)
	s.logger.Log(entry)
}
