package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docrag/backend/internal/retrieval"
)

// readEvent returns the data line of the next SSE event named name.
func readEvent(t *testing.T, r *bufio.Reader, name string) string {
	t.Helper()
	var event string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && event == name:
			return strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestHandler_SSESession(t *testing.T) {
	m := new(MockRetriever)
	m.On("Search", mock.Anything, "docker", retrieval.DocumentSet(nil), mock.Anything).Return([]retrieval.SearchHit{}, nil)
	h := NewHandler(m, new(MockDocumentLister))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /mcp/sse", h.HandleSSE)
	mux.HandleFunc("POST /mcp/messages", h.HandleMessage)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/mcp/sse", nil)
	require.NoError(t, err)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	reader := bufio.NewReader(stream.Body)
	endpoint := readEvent(t, reader, "endpoint")
	assert.Contains(t, endpoint, "/mcp/messages?sessionId=")

	body := `{"jsonrpc":"2.0","method":"tools/call","id":7,"params":{"name":"docrag_search","arguments":{"query":"docker"}}}`
	resp, err := http.Post(endpoint, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var rpcResp JSONRPCResponse
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, reader, "message")), &rpcResp))
	assert.Equal(t, float64(7), rpcResp.ID)
	text, _ := resultText(t, rpcResp)
	assert.Equal(t, "No results found.", text)
}

func TestHandler_HandleMessage_Errors(t *testing.T) {
	h := NewHandler(new(MockRetriever), new(MockDocumentLister))

	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantCode   string
	}{
		{name: "Missing session", url: "/mcp/messages", wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_ERROR"},
		{name: "Unknown session", url: "/mcp/messages?sessionId=nope", wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.HandleMessage(w, httptest.NewRequest(http.MethodPost, tt.url, bytes.NewBufferString(`{}`)))

			assert.Equal(t, tt.wantStatus, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.wantCode, body["error"].(map[string]interface{})["code"])
			assert.Equal(t, "unknown", body["correlationId"])
		})
	}
}

func TestHandler_RespondAfterSessionClosed(t *testing.T) {
	h := NewHandler(new(MockRetriever), new(MockDocumentLister))
	assert.NotPanics(t, func() {
		h.respond(context.Background(), "gone", JSONRPCRequest{JSONRPC: "2.0", Method: "initialize", ID: 1})
	})
}
