package retrieve

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"docrag/backend/internal/middleware"
	"docrag/backend/internal/retrieval"
)

type Retriever interface {
	RetrieveContext(ctx context.Context, query string, docs retrieval.DocumentSet, opts *retrieval.ContextOptions) (*retrieval.AssembledContext, error)
	Search(ctx context.Context, query string, docs retrieval.DocumentSet, opts *retrieval.SearchOptions) ([]retrieval.SearchHit, error)
}

type Handler struct {
	svc Retriever
}

func NewHandler(svc Retriever) *Handler {
	return &Handler{svc: svc}
}

// ContextRequest is the body of POST /context. An absent documentIds field
// searches every active document; an empty array searches none.
type ContextRequest struct {
	Query            string   `json:"query"`
	DocumentIDs      []string `json:"documentIds,omitempty"`
	Limit            *int     `json:"limit,omitempty"`
	MaxContextLength *int     `json:"maxContextLength,omitempty"`
	Window           *int     `json:"window,omitempty"`
}

type SearchRequest struct {
	Query       string   `json:"query"`
	DocumentIDs []string `json:"documentIds,omitempty"`
	Limit       *int     `json:"limit,omitempty"`
}

func (h *Handler) Context(w http.ResponseWriter, r *http.Request) {
	var req ContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "query is required", http.StatusBadRequest)
		return
	}
	if req.MaxContextLength != nil && *req.MaxContextLength < 0 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "maxContextLength must not be negative", http.StatusBadRequest)
		return
	}
	if req.Window != nil && *req.Window < 0 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "window must not be negative", http.StatusBadRequest)
		return
	}

	opts := &retrieval.ContextOptions{
		Limit:            req.Limit,
		MaxContextLength: req.MaxContextLength,
		Window:           req.Window,
	}
	out, err := h.svc.RetrieveContext(r.Context(), req.Query, documentSet(req.DocumentIDs), opts)
	if err != nil {
		h.handleServiceError(r.Context(), w, err)
		return
	}
	h.writeData(w, out)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "query is required", http.StatusBadRequest)
		return
	}

	hits, err := h.svc.Search(r.Context(), req.Query, documentSet(req.DocumentIDs), &retrieval.SearchOptions{Limit: req.Limit})
	if err != nil {
		h.handleServiceError(r.Context(), w, err)
		return
	}
	if hits == nil {
		hits = []retrieval.SearchHit{}
	}
	h.writeData(w, hits)
}

func documentSet(ids []string) retrieval.DocumentSet {
	if ids == nil {
		return nil
	}
	return retrieval.NewDocumentSet(ids...)
}

func (h *Handler) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, retrieval.ErrInvalidLimit) {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	slog.ErrorContext(ctx, "retrieval failed", "error", err)
	h.writeError(ctx, w, "INTERNAL_ERROR", "retrieval failed", http.StatusInternalServerError)
}

func (h *Handler) writeData(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}
	json.NewEncoder(w).Encode(resp)
}
