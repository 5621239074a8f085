package retrieve_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docrag/backend/features/retrieve"
	"docrag/backend/internal/middleware"
	"docrag/backend/internal/retrieval"
)

type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) RetrieveContext(ctx context.Context, query string, docs retrieval.DocumentSet, opts *retrieval.ContextOptions) (*retrieval.AssembledContext, error) {
	args := m.Called(ctx, query, docs, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*retrieval.AssembledContext), args.Error(1)
}

func (m *MockRetriever) Search(ctx context.Context, query string, docs retrieval.DocumentSet, opts *retrieval.SearchOptions) ([]retrieval.SearchHit, error) {
	args := m.Called(ctx, query, docs, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]retrieval.SearchHit), args.Error(1)
}

func post(t *testing.T, h http.HandlerFunc, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req = req.WithContext(middleware.WithCorrelationID(req.Context(), "corr-42"))
	w := httptest.NewRecorder()
	h(w, req)

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return w, out
}

func TestHandler_Context(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(*MockRetriever)
		wantStatus int
		validate   func(*testing.T, map[string]interface{})
	}{
		{
			name: "Success with all documents",
			body: `{"query":"install docker","maxContextLength":500}`,
			setup: func(m *MockRetriever) {
				m.On("RetrieveContext", mock.Anything, "install docker", retrieval.DocumentSet(nil), mock.MatchedBy(func(o *retrieval.ContextOptions) bool {
					return o.MaxContextLength != nil && *o.MaxContextLength == 500 && o.Limit == nil
				})).Return(&retrieval.AssembledContext{
					Text:    "Based on the following documents:\n\nDocument: Setup\nContent: Install Docker.",
					Sources: []retrieval.Source{{DocumentID: "doc-1", Title: "Setup", Snippet: "Install Docker.", Score: 1}},
				}, nil)
			},
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.Contains(t, data["text"], "Document: Setup")
				sources := data["sources"].([]interface{})
				require.Len(t, sources, 1)
				assert.Equal(t, "doc-1", sources[0].(map[string]interface{})["documentId"])
			},
		},
		{
			name: "Empty document list restricts to nothing",
			body: `{"query":"install docker","documentIds":[]}`,
			setup: func(m *MockRetriever) {
				m.On("RetrieveContext", mock.Anything, "install docker", retrieval.NewDocumentSet(), mock.Anything).
					Return(&retrieval.AssembledContext{Text: "", Sources: []retrieval.Source{}}, nil)
			},
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.Equal(t, "", data["text"])
				assert.Empty(t, data["sources"])
			},
		},
		{
			name:       "Missing query",
			body:       `{"query":"  "}`,
			setup:      func(m *MockRetriever) {},
			wantStatus: http.StatusBadRequest,
			validate: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "VALIDATION_ERROR", body["error"].(map[string]interface{})["code"])
				assert.Equal(t, "corr-42", body["correlationId"])
			},
		},
		{
			name:       "Negative budget",
			body:       `{"query":"q","maxContextLength":-1}`,
			setup:      func(m *MockRetriever) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Malformed JSON",
			body:       `{"query":`,
			setup:      func(m *MockRetriever) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "Invalid limit",
			body: `{"query":"install docker","limit":0}`,
			setup: func(m *MockRetriever) {
				m.On("RetrieveContext", mock.Anything, "install docker", retrieval.DocumentSet(nil), mock.Anything).
					Return(nil, retrieval.ErrInvalidLimit)
			},
			wantStatus: http.StatusBadRequest,
			validate: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "VALIDATION_ERROR", body["error"].(map[string]interface{})["code"])
			},
		},
		{
			name: "Unexpected failure",
			body: `{"query":"install docker"}`,
			setup: func(m *MockRetriever) {
				m.On("RetrieveContext", mock.Anything, "install docker", retrieval.DocumentSet(nil), mock.Anything).
					Return(nil, errors.New("boom"))
			},
			wantStatus: http.StatusInternalServerError,
			validate: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "INTERNAL_ERROR", body["error"].(map[string]interface{})["code"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(MockRetriever)
			tt.setup(m)
			h := retrieve.NewHandler(m)

			w, body := post(t, h.Context, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.validate != nil {
				tt.validate(t, body)
			}
			m.AssertExpectations(t)
		})
	}
}

func TestHandler_Search(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		m := new(MockRetriever)
		m.On("Search", mock.Anything, "install docker", retrieval.NewDocumentSet("doc-1"), mock.MatchedBy(func(o *retrieval.SearchOptions) bool {
			return o.Limit != nil && *o.Limit == 3
		})).Return([]retrieval.SearchHit{
			{DocumentID: "doc-1", Score: 0.9, Snippet: "c1", Match: retrieval.VectorMatch{ChunkIndex: 1}},
			{DocumentID: "doc-1", Score: 0.5, Snippet: "Install Docker.", Match: retrieval.KeywordMatch{MatchCount: 1, TermCount: 2}},
		}, nil)

		w, body := post(t, retrieve.NewHandler(m).Search, `{"query":"install docker","documentIds":["doc-1"],"limit":3}`)
		assert.Equal(t, http.StatusOK, w.Code)

		hits := body["data"].([]interface{})
		require.Len(t, hits, 2)
		first := hits[0].(map[string]interface{})
		assert.Equal(t, "vector", first["searchType"])
		assert.Equal(t, float64(1), first["chunkIndex"])
		second := hits[1].(map[string]interface{})
		assert.Equal(t, "keyword", second["searchType"])
		_, hasChunk := second["chunkIndex"]
		assert.False(t, hasChunk)
	})

	t.Run("No hits encodes empty array", func(t *testing.T) {
		m := new(MockRetriever)
		m.On("Search", mock.Anything, "nothing", retrieval.DocumentSet(nil), mock.Anything).Return(nil, nil)

		w, body := post(t, retrieve.NewHandler(m).Search, `{"query":"nothing"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []interface{}{}, body["data"])
	})
}
