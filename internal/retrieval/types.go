package retrieval

import (
	"context"
	"encoding/json"
	"sort"
)

type Document struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	IsActive    bool   `json:"isActive"`
	ContentType string `json:"contentType,omitempty"`
}

type Chunk struct {
	DocumentID string    `json:"documentId"`
	ChunkIndex int       `json:"chunkIndex"`
	ChunkText  string    `json:"chunkText"`
	Embedding  []float32 `json:"-"`
}

// ScoredChunk is a single nearest-neighbour result from a VectorIndex.
type ScoredChunk struct {
	DocumentID string
	Title      string
	ChunkIndex int
	ChunkText  string
	Score      float64
}

// Filter narrows a vector search. A nil DocumentIDs slice means no restriction.
type Filter struct {
	ActiveOnly  bool
	DocumentIDs []string
}

type SearchType string

const (
	SearchTypeVector  SearchType = "vector"
	SearchTypeKeyword SearchType = "keyword"
)

// Match records how a hit was found. It is implemented only by VectorMatch
// and KeywordMatch.
type Match interface {
	SearchType() SearchType
	isMatch()
}

// VectorMatch is a chunk-level hit from the vector index.
type VectorMatch struct {
	ChunkIndex int
}

func (VectorMatch) SearchType() SearchType { return SearchTypeVector }
func (VectorMatch) isMatch()               {}

// KeywordMatch is a whole-document hit from the keyword fallback.
type KeywordMatch struct {
	MatchCount int
	TermCount  int
}

func (KeywordMatch) SearchType() SearchType { return SearchTypeKeyword }
func (KeywordMatch) isMatch()               {}

// SearchHit is one ranked retrieval result. Scores are comparable within a
// search type but not normalized across types.
type SearchHit struct {
	DocumentID string
	Title      string
	Score      float64
	Snippet    string
	Match      Match
}

// ChunkIndex reports the matched chunk for vector hits.
func (h SearchHit) ChunkIndex() (int, bool) {
	if m, ok := h.Match.(VectorMatch); ok {
		return m.ChunkIndex, true
	}
	return 0, false
}

func (h SearchHit) SearchType() SearchType {
	if h.Match == nil {
		return ""
	}
	return h.Match.SearchType()
}

func (h SearchHit) MarshalJSON() ([]byte, error) {
	out := struct {
		DocumentID string     `json:"documentId"`
		Title      string     `json:"title,omitempty"`
		ChunkIndex *int       `json:"chunkIndex,omitempty"`
		Score      float64    `json:"score"`
		Snippet    string     `json:"snippet"`
		SearchType SearchType `json:"searchType"`
	}{
		DocumentID: h.DocumentID,
		Title:      h.Title,
		Score:      h.Score,
		Snippet:    h.Snippet,
		SearchType: h.SearchType(),
	}
	if idx, ok := h.ChunkIndex(); ok {
		out.ChunkIndex = &idx
	}
	return json.Marshal(out)
}

type Source struct {
	DocumentID string  `json:"documentId"`
	Title      string  `json:"title"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

type AssembledContext struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
}

// DocumentSet restricts retrieval to a set of documents. The nil set places
// no restriction; an empty non-nil set matches nothing.
type DocumentSet map[string]struct{}

func NewDocumentSet(ids ...string) DocumentSet {
	s := make(DocumentSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s DocumentSet) Contains(id string) bool {
	if s == nil {
		return true
	}
	_, ok := s[id]
	return ok
}

// IDs returns the members in sorted order, or nil for the unrestricted set.
func (s DocumentSet) IDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorIndex interface {
	Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]ScoredChunk, error)
}

type ChunkStore interface {
	ChunksForDocument(ctx context.Context, documentID string) ([]Chunk, error)
}

// ChunkRangeReader is implemented by chunk stores that can fetch an index
// window directly. Bounds are inclusive.
type ChunkRangeReader interface {
	ChunkRange(ctx context.Context, documentID string, from, to int) ([]Chunk, error)
}

type DocumentStore interface {
	GetActiveDocuments(ctx context.Context, ids []string) ([]Document, error)
}
