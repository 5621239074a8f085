package retrieval_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docrag/backend/internal/retrieval"
	"docrag/backend/internal/settings"
)

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockIndex struct{ mock.Mock }

func (m *MockIndex) Search(ctx context.Context, vector []float32, filter retrieval.Filter, limit int) ([]retrieval.ScoredChunk, error) {
	args := m.Called(ctx, vector, filter, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]retrieval.ScoredChunk), args.Error(1)
}

type MockDocumentStore struct{ mock.Mock }

func (m *MockDocumentStore) GetActiveDocuments(ctx context.Context, ids []string) ([]retrieval.Document, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]retrieval.Document), args.Error(1)
}

type MockChunkStore struct{ mock.Mock }

func (m *MockChunkStore) ChunksForDocument(ctx context.Context, documentID string) ([]retrieval.Chunk, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]retrieval.Chunk), args.Error(1)
}

// MockRangeStore also serves index windows directly.
type MockRangeStore struct{ MockChunkStore }

func (m *MockRangeStore) ChunkRange(ctx context.Context, documentID string, from, to int) ([]retrieval.Chunk, error) {
	args := m.Called(ctx, documentID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]retrieval.Chunk), args.Error(1)
}

type MockSettingsRepo struct{ mock.Mock }

func (m *MockSettingsRepo) Get(ctx context.Context) (*settings.Settings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settings.Settings), args.Error(1)
}

func (m *MockSettingsRepo) Update(ctx context.Context, s *settings.Settings) error {
	return m.Called(ctx, s).Error(0)
}

// chunksOf builds a dense run of chunks "c0".."c(n-1)" for documentID.
func chunksOf(documentID string, n int) []retrieval.Chunk {
	chunks := make([]retrieval.Chunk, n)
	for i := range chunks {
		chunks[i] = retrieval.Chunk{
			DocumentID: documentID,
			ChunkIndex: i,
			ChunkText:  "c" + string(rune('0'+i)),
		}
	}
	return chunks
}

// blockUntilDone holds a mocked call until its context ends.
func blockUntilDone(args mock.Arguments) {
	<-args.Get(0).(context.Context).Done()
}
