package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// candidateFactor widens the vector request so filtering still leaves enough hits.
const candidateFactor = 2

// HybridRetriever combines vector search with a keyword fallback.
type HybridRetriever struct {
	embedder Embedder
	index    VectorIndex
	docs     DocumentStore
	scorer   KeywordScorer
	timeout  time.Duration
}

func NewHybridRetriever(e Embedder, idx VectorIndex, docs DocumentStore, timeout time.Duration) *HybridRetriever {
	return &HybridRetriever{embedder: e, index: idx, docs: docs, timeout: timeout}
}

// vectorOutcome is the result of the vector pass. Err is an *EmbeddingError
// or *IndexError when the pass degraded.
type vectorOutcome struct {
	Hits []SearchHit
	Err  error
}

// Retrieve returns at most limit hits ordered by descending score. Failures of
// the embedding service or vector index degrade to keyword-only results.
func (r *HybridRetriever) Retrieve(ctx context.Context, query string, docs DocumentSet, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if docs != nil && len(docs) == 0 {
		slog.DebugContext(ctx, "empty document set, nothing to retrieve")
		return []SearchHit{}, nil
	}

	vec := r.vectorPass(ctx, query, docs, limit)
	if vec.Err != nil {
		slog.WarnContext(ctx, "vector search unavailable, falling back to keyword search", "error", vec.Err)
	}

	if len(vec.Hits) >= limit {
		sortByScore(vec.Hits)
		return vec.Hits[:limit], nil
	}

	keyword := r.keywordPass(ctx, query, docs)
	merged := merge(vec.Hits, keyword)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	slog.DebugContext(ctx, "hybrid retrieval complete",
		"vector_hits", len(vec.Hits),
		"keyword_hits", len(keyword),
		"returned", len(merged))
	return merged, nil
}

func (r *HybridRetriever) vectorPass(ctx context.Context, query string, docs DocumentSet, limit int) vectorOutcome {
	if r.embedder == nil || r.index == nil {
		return vectorOutcome{}
	}

	vector, err := r.embed(ctx, query)
	if err != nil {
		return vectorOutcome{Err: &EmbeddingError{Err: err}}
	}

	results, err := r.search(ctx, vector, Filter{ActiveOnly: true, DocumentIDs: docs.IDs()}, limit*candidateFactor)
	if err != nil {
		return vectorOutcome{Err: &IndexError{Err: err}}
	}

	hits := make([]SearchHit, 0, len(results))
	for _, res := range results {
		if !docs.Contains(res.DocumentID) {
			continue
		}
		hits = append(hits, SearchHit{
			DocumentID: res.DocumentID,
			Title:      res.Title,
			Score:      res.Score,
			Snippet:    res.ChunkText,
			Match:      VectorMatch{ChunkIndex: res.ChunkIndex},
		})
	}
	return vectorOutcome{Hits: hits}
}

func (r *HybridRetriever) keywordPass(ctx context.Context, query string, docs DocumentSet) []SearchHit {
	terms := Tokenize(query)
	if len(terms) == 0 || r.docs == nil {
		return nil
	}

	cctx, cancel := r.withTimeout(ctx)
	defer cancel()
	candidates, err := r.docs.GetActiveDocuments(cctx, docs.IDs())
	if err != nil {
		slog.WarnContext(ctx, "keyword fallback could not load documents", "error", err)
		return nil
	}

	var active []Document
	for _, d := range candidates {
		if d.IsActive && docs.Contains(d.ID) {
			active = append(active, d)
		}
	}
	return r.scorer.ScoreAll(active, terms)
}

func (r *HybridRetriever) embed(ctx context.Context, query string) ([]float32, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.embedder.Embed(ctx, query)
}

func (r *HybridRetriever) search(ctx context.Context, vector []float32, f Filter, limit int) ([]ScoredChunk, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.index.Search(ctx, vector, f, limit)
}

func (r *HybridRetriever) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// merge appends keyword hits for documents not already found by vector search
// and orders the result by score, vector hits first on ties.
func merge(vector, keyword []SearchHit) []SearchHit {
	candidates := make([]SearchHit, 0, len(vector)+len(keyword))
	candidates = append(candidates, vector...)
	candidates = append(candidates, keyword...)

	seen := make(map[string]struct{}, len(vector))
	merged := candidates[:0]
	for _, h := range candidates {
		switch h.Match.(type) {
		case VectorMatch:
			seen[h.DocumentID] = struct{}{}
			merged = append(merged, h)
		case KeywordMatch:
			if _, dup := seen[h.DocumentID]; dup {
				continue
			}
			merged = append(merged, h)
		}
	}
	sortByScore(merged)
	return merged
}

func sortByScore(hits []SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
}
