package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"docrag/backend/internal/retrieval"
)

type Retriever interface {
	Search(ctx context.Context, query string, docs retrieval.DocumentSet, opts *retrieval.SearchOptions) ([]retrieval.SearchHit, error)
	RetrieveContext(ctx context.Context, query string, docs retrieval.DocumentSet, opts *retrieval.ContextOptions) (*retrieval.AssembledContext, error)
}

type DocumentLister interface {
	GetActiveDocuments(ctx context.Context, ids []string) ([]retrieval.Document, error)
}

type Handler struct {
	retriever    Retriever
	documents    DocumentLister
	sessions     map[string]chan string // sessionId -> serialized JSON-RPC responses
	sessionsLock sync.RWMutex
}

func NewHandler(r Retriever, d DocumentLister) *Handler {
	return &Handler{
		retriever: r,
		documents: d,
		sessions:  make(map[string]chan string),
	}
}

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type SearchArgs struct {
	Query       string   `json:"query"`
	Limit       *int     `json:"limit,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

type ContextArgs struct {
	Query            string   `json:"query"`
	Limit            *int     `json:"limit,omitempty"`
	DocumentIDs      []string `json:"document_ids,omitempty"`
	MaxContextLength *int     `json:"max_context_length,omitempty"`
	Window           *int     `json:"window,omitempty"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

const (
	ToolSearch        = "docrag_search"
	ToolContext       = "docrag_context"
	ToolListDocuments = "docrag_list_documents"
)

var documentIDsSchema = map[string]interface{}{
	"type":        "array",
	"items":       map[string]string{"type": "string"},
	"description": "Restrict the search to these document IDs. Omit to search every active document.",
}

var tools = []Tool{
	{
		Name: ToolSearch,
		Description: `Hybrid search over the indexed documents. Vector similarity runs first; when it returns fewer hits than the limit, a keyword pass over whole documents fills the gap. Returns ranked snippets with their document IDs.

USAGE EXAMPLE:
docrag_search(query="how do I rotate the API key", limit=5)`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]string{
					"type":        "string",
					"description": "The search query",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Max results to return (default from settings).",
					"minimum":     1,
				},
				"document_ids": documentIDsSchema,
			},
			"required": []string{"query"},
		},
	},
	{
		Name: ToolContext,
		Description: `Builds a ready-to-use context block for answering a question. Vector hits are widened with their neighbouring chunks, then packed into a character budget with a "Based on the following documents:" preamble.

USAGE EXAMPLE:
docrag_context(query="what does the deploy script do", max_context_length=2000)`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]string{
					"type":        "string",
					"description": "The question to gather context for",
				},
				"limit": map[string]interface{}{
					"type":    "integer",
					"minimum": 1,
				},
				"max_context_length": map[string]interface{}{
					"type":        "integer",
					"description": "Character budget for the assembled text.",
					"minimum":     0,
				},
				"window": map[string]interface{}{
					"type":        "integer",
					"description": "Neighbouring chunks to include on each side of a vector hit.",
					"minimum":     0,
				},
				"document_ids": documentIDsSchema,
			},
			"required": []string{"query"},
		},
	},
	{
		Name:        ToolListDocuments,
		Description: `Lists the active documents that searches run over. Use it to find document IDs for the document_ids argument.`,
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	},
}

// processRequest returns nil for notifications, which get no response.
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "docrag-mcp",
					"version": "1.0.0",
				},
			},
		}
	case "notifications/initialized":
		return nil
	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: tools}}
	case "tools/call":
		return h.callTool(ctx, req)
	}

	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
	return &resp
}

func (h *Handler) callTool(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	var params CallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		slog.WarnContext(ctx, "invalid params structure", "error", err)
		resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
		return &resp
	}

	switch params.Name {
	case ToolSearch:
		return h.search(ctx, req.ID, params.Arguments)
	case ToolContext:
		return h.assembleContext(ctx, req.ID, params.Arguments)
	case ToolListDocuments:
		return h.listDocuments(ctx, req.ID)
	}

	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Tool not found: "+params.Name)
	return &resp
}

func (h *Handler) search(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args SearchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		resp := makeErrorResponse(id, ErrInvalidParams, "Invalid search arguments")
		return &resp
	}
	if strings.TrimSpace(args.Query) == "" {
		resp := makeErrorResponse(id, ErrInvalidParams, "Query is required")
		return &resp
	}

	hits, err := h.retriever.Search(ctx, args.Query, documentSet(args.DocumentIDs), &retrieval.SearchOptions{Limit: args.Limit})
	if err != nil {
		return h.retrievalError(ctx, id, ToolSearch, err)
	}

	var b strings.Builder
	if len(hits) == 0 {
		b.WriteString("No results found.")
	}
	for i, hit := range hits {
		fmt.Fprintf(&b, "Result %d (Score: %.2f, %s):\n", i+1, hit.Score, hit.SearchType())
		if hit.Title != "" {
			fmt.Fprintf(&b, "Title: %s\n", hit.Title)
		}
		fmt.Fprintf(&b, "DocumentID: %s\n", hit.DocumentID)
		if idx, ok := hit.ChunkIndex(); ok {
			fmt.Fprintf(&b, "Chunk: %d\n", idx)
		}
		fmt.Fprintf(&b, "Content:\n%s\n\n---\n", hit.Snippet)
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", ToolSearch, "result_count", len(hits))
	return textResult(id, b.String())
}

func (h *Handler) assembleContext(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args ContextArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		resp := makeErrorResponse(id, ErrInvalidParams, "Invalid context arguments")
		return &resp
	}
	if strings.TrimSpace(args.Query) == "" {
		resp := makeErrorResponse(id, ErrInvalidParams, "Query is required")
		return &resp
	}
	if (args.MaxContextLength != nil && *args.MaxContextLength < 0) || (args.Window != nil && *args.Window < 0) {
		resp := makeErrorResponse(id, ErrInvalidParams, "max_context_length and window must not be negative")
		return &resp
	}

	opts := &retrieval.ContextOptions{
		Limit:            args.Limit,
		MaxContextLength: args.MaxContextLength,
		Window:           args.Window,
	}
	out, err := h.retriever.RetrieveContext(ctx, args.Query, documentSet(args.DocumentIDs), opts)
	if err != nil {
		return h.retrievalError(ctx, id, ToolContext, err)
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", ToolContext, "sources", len(out.Sources))
	if out.Text == "" {
		return textResult(id, "No relevant content found.")
	}
	return textResult(id, out.Text)
}

func (h *Handler) listDocuments(ctx context.Context, id interface{}) *JSONRPCResponse {
	docs, err := h.documents.GetActiveDocuments(ctx, nil)
	if err != nil {
		slog.ErrorContext(ctx, "list documents failed", "error", err)
		return toolError(id, "Error: "+err.Error())
	}
	if len(docs) == 0 {
		return textResult(id, "No documents found.")
	}

	type simpleDocument struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	simple := make([]simpleDocument, len(docs))
	for i, d := range docs {
		simple[i] = simpleDocument{ID: d.ID, Title: d.Title}
	}

	jsonBytes, err := json.MarshalIndent(simple, "", "  ")
	if err != nil {
		return toolError(id, "Error marshalling results")
	}
	return textResult(id, string(jsonBytes))
}

func (h *Handler) retrievalError(ctx context.Context, id interface{}, tool string, err error) *JSONRPCResponse {
	if errors.Is(err, retrieval.ErrInvalidLimit) {
		resp := makeErrorResponse(id, ErrInvalidParams, err.Error())
		return &resp
	}
	slog.ErrorContext(ctx, "tool execution failed", "tool", tool, "error", err)
	resp := makeErrorResponse(id, ErrInternal, "Retrieval failed: "+err.Error())
	return &resp
}

func documentSet(ids []string) retrieval.DocumentSet {
	if ids == nil {
		return nil
	}
	return retrieval.NewDocumentSet(ids...)
}

func textResult(id interface{}, text string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  ToolResult{Content: []ToolContent{{Type: "text", Text: text}}},
	}
}

func toolError(id interface{}, text string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: ToolResult{
			Content: []ToolContent{{Type: "text", Text: text}},
			IsError: true,
		},
	}
}

func makeErrorResponse(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

// ServeHTTP answers a single JSON-RPC request on the response body.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, nil, ErrParse, "Parse error")
		return
	}

	resp := h.processRequest(r.Context(), req)
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode mcp response", "error", err)
	}
}

// JSON-RPC errors travel with HTTP 200.
func (h *Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(makeErrorResponse(id, code, message))
}
