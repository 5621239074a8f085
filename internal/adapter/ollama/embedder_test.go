package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/backend/internal/adapter/ollama"
)

func TestEmbedder_Embed(t *testing.T) {
	var gotModel string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if m, ok := body["model"].(string); ok {
			gotModel = m
		}
		w.Header().Set("Content-Type", "application/json")
		// Older servers answer /api/embeddings, newer ones /api/embed.
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding":  []float32{0.25, 0.5},
			"embeddings": [][]float32{{0.25, 0.5}},
		})
	}))
	defer ts.Close()

	e, err := ollama.NewEmbedder(ollama.Config{Model: "nomic-embed-text", ServerURL: ts.URL})
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "install docker")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.5}, vec)
	assert.Equal(t, "nomic-embed-text", gotModel)
}

func TestEmbedder_Embed_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer ts.Close()

	e, err := ollama.NewEmbedder(ollama.Config{ServerURL: ts.URL})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "install docker")
	assert.Error(t, err)
}
