package pgvector_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/backend/internal/adapter/pgvector"
	"docrag/backend/internal/retrieval"
	"docrag/backend/internal/testutils"
)

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	ctx := context.Background()
	store, err := pgvector.New(ctx, pgvector.Config{ConnString: s.DSN, VectorDim: 3})
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Ping(ctx))

	seed := []struct {
		chunk  retrieval.Chunk
		title  string
		active bool
	}{
		{retrieval.Chunk{DocumentID: "doc-a", ChunkIndex: 0, ChunkText: "a0", Embedding: []float32{1, 0, 0}}, "A", true},
		{retrieval.Chunk{DocumentID: "doc-a", ChunkIndex: 1, ChunkText: "a1", Embedding: []float32{0.9, 0.1, 0}}, "A", true},
		{retrieval.Chunk{DocumentID: "doc-a", ChunkIndex: 2, ChunkText: "a2", Embedding: []float32{0, 1, 0}}, "A", true},
		{retrieval.Chunk{DocumentID: "doc-a", ChunkIndex: 3, ChunkText: "a3"}, "A", true},
		{retrieval.Chunk{DocumentID: "doc-b", ChunkIndex: 0, ChunkText: "b0", Embedding: []float32{1, 0, 0}}, "B", false},
	}
	for _, c := range seed {
		require.NoError(t, store.PutChunk(ctx, c.chunk, c.title, c.active))
	}

	t.Run("Search orders by similarity", func(t *testing.T) {
		res, err := store.Search(ctx, []float32{1, 0, 0}, retrieval.Filter{ActiveOnly: true}, 10)
		require.NoError(t, err)
		require.Len(t, res, 3)
		assert.Equal(t, "a0", res[0].ChunkText)
		assert.InDelta(t, 1.0, res[0].Score, 0.0001)
		assert.Equal(t, "A", res[0].Title)
		assert.Equal(t, "a1", res[1].ChunkText)
	})

	t.Run("Search skips chunks without embedding", func(t *testing.T) {
		res, err := store.Search(ctx, []float32{1, 0, 0}, retrieval.Filter{DocumentIDs: []string{"doc-a"}}, 10)
		require.NoError(t, err)
		require.Len(t, res, 3)
		for _, r := range res {
			assert.NotEqual(t, "a3", r.ChunkText)
		}
	})

	t.Run("Search filters documents", func(t *testing.T) {
		res, err := store.Search(ctx, []float32{1, 0, 0}, retrieval.Filter{DocumentIDs: []string{"doc-b"}}, 10)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "doc-b", res[0].DocumentID)

		res, err = store.Search(ctx, []float32{1, 0, 0}, retrieval.Filter{DocumentIDs: []string{}}, 10)
		require.NoError(t, err)
		assert.Empty(t, res)
	})

	t.Run("Chunks and ranges", func(t *testing.T) {
		all, err := store.ChunksForDocument(ctx, "doc-a")
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, 0, all[0].ChunkIndex)
		assert.Equal(t, "a3", all[3].ChunkText)

		window, err := store.ChunkRange(ctx, "doc-a", 1, 5)
		require.NoError(t, err)
		require.Len(t, window, 3)
		assert.Equal(t, "a1", window[0].ChunkText)
	})

	t.Run("Expander over the store", func(t *testing.T) {
		e := retrieval.NewContextExpander(store, 0)
		hit := retrieval.SearchHit{DocumentID: "doc-a", Snippet: "a0", Match: retrieval.VectorMatch{ChunkIndex: 0}}
		assert.Equal(t, "a0 a1", e.Expand(ctx, hit, 1))
	})
}
