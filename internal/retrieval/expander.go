package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultWindow        = 1
	defaultExpandWorkers = 4
)

var errEmptyWindow = errors.New("no chunks in window")

// ContextExpander widens a vector hit with its neighbouring chunks.
type ContextExpander struct {
	store   ChunkStore
	timeout time.Duration
	workers int
}

func NewContextExpander(store ChunkStore, timeout time.Duration) *ContextExpander {
	return &ContextExpander{store: store, timeout: timeout, workers: defaultExpandWorkers}
}

// Expand returns the chunks in [index-window, index+window] joined by a single
// space. Keyword hits and failed fetches yield the hit's own snippet.
func (e *ContextExpander) Expand(ctx context.Context, hit SearchHit, window int) string {
	idx, ok := hit.ChunkIndex()
	if !ok || e.store == nil {
		return hit.Snippet
	}
	if window < 0 {
		window = 0
	}

	chunks, err := e.window(ctx, hit.DocumentID, idx, window)
	if err == nil && len(chunks) == 0 {
		err = errEmptyWindow
	}
	if err != nil {
		expErr := &ExpansionError{DocumentID: hit.DocumentID, ChunkIndex: idx, Err: err}
		slog.WarnContext(ctx, "context expansion failed, using snippet", "error", expErr)
		return hit.Snippet
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.ChunkText
	}
	return strings.Join(texts, " ")
}

// ExpandAll expands every hit concurrently and returns copies with widened
// snippets, in input order.
func (e *ContextExpander) ExpandAll(ctx context.Context, hits []SearchHit, window int) []SearchHit {
	out := make([]SearchHit, len(hits))
	copy(out, hits)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range out {
		if _, ok := out[i].ChunkIndex(); !ok {
			continue
		}
		g.Go(func() error {
			out[i].Snippet = e.Expand(gctx, out[i], window)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *ContextExpander) window(ctx context.Context, documentID string, idx, window int) ([]Chunk, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	from := max(0, idx-window)
	to := idx + window

	if rr, ok := e.store.(ChunkRangeReader); ok {
		chunks, err := rr.ChunkRange(ctx, documentID, from, to)
		if err != nil {
			return nil, err
		}
		sortChunks(chunks)
		return chunks, nil
	}

	all, err := e.store.ChunksForDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	sortChunks(all)
	if len(all) == 0 {
		return nil, nil
	}
	to = min(all[len(all)-1].ChunkIndex, to)

	var chunks []Chunk
	for _, c := range all {
		if c.ChunkIndex >= from && c.ChunkIndex <= to {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

func sortChunks(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
}
