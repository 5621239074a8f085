package weaviate

import (
	"context"
	"fmt"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"docrag/backend/internal/retrieval"
	"docrag/backend/internal/vector"
)

// chunkPageSize bounds a single Get when listing a document's chunks.
const chunkPageSize = 100

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, vector.NewClientAdapter(s.client))
}

func (s *Store) Ready(ctx context.Context) (bool, error) {
	return vector.NewClientAdapter(s.client).Ready(ctx)
}

// PutChunk writes one chunk with its embedding.
func (s *Store) PutChunk(ctx context.Context, c retrieval.Chunk, title string, active bool) error {
	_, err := s.client.Data().Creator().
		WithClassName(vector.ChunkClass).
		WithProperties(map[string]interface{}{
			vector.PropDocumentID: c.DocumentID,
			vector.PropChunkIndex: c.ChunkIndex,
			vector.PropChunkText:  c.ChunkText,
			vector.PropTitle:      title,
			vector.PropIsActive:   active,
		}).
		WithVector(c.Embedding).
		Do(ctx)
	return err
}

// Search returns the nearest chunks to vec. Score is 1 - cosine distance.
func (s *Store) Search(ctx context.Context, vec []float32, f retrieval.Filter, limit int) ([]retrieval.ScoredChunk, error) {
	if f.DocumentIDs != nil && len(f.DocumentIDs) == 0 {
		return []retrieval.ScoredChunk{}, nil
	}
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	q := s.client.GraphQL().Get().
		WithClassName(vector.ChunkClass).
		WithNearVector(nearVector).
		WithLimit(limit).
		WithFields(chunkFields(true)...)
	if where := searchFilter(f); where != nil {
		q = q.WithWhere(where)
	}

	res, err := q.Do(ctx)
	if err != nil {
		return nil, err
	}
	if err := graphqlError(res); err != nil {
		return nil, err
	}

	rows := getRows(res)
	out := make([]retrieval.ScoredChunk, 0, len(rows))
	for _, props := range rows {
		c := parseChunk(props)
		sc := retrieval.ScoredChunk{
			DocumentID: c.DocumentID,
			Title:      stringProp(props, vector.PropTitle),
			ChunkIndex: c.ChunkIndex,
			ChunkText:  c.ChunkText,
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				sc.Score = 1 - d
			}
		}
		out = append(out, sc)
	}
	return out, nil
}

// ChunksForDocument pages through every chunk of documentID.
func (s *Store) ChunksForDocument(ctx context.Context, documentID string) ([]retrieval.Chunk, error) {
	var all []retrieval.Chunk
	for offset := 0; ; offset += chunkPageSize {
		page, err := s.getChunks(ctx, documentFilter(documentID), chunkPageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < chunkPageSize {
			return all, nil
		}
	}
}

// ChunkRange returns the chunks of documentID with from <= chunkIndex <= to.
func (s *Store) ChunkRange(ctx context.Context, documentID string, from, to int) ([]retrieval.Chunk, error) {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			documentFilter(documentID),
			filters.Where().
				WithPath([]string{vector.PropChunkIndex}).
				WithOperator(filters.GreaterThanEqual).
				WithValueInt(int64(from)),
			filters.Where().
				WithPath([]string{vector.PropChunkIndex}).
				WithOperator(filters.LessThanEqual).
				WithValueInt(int64(to)),
		})
	return s.getChunks(ctx, where, to-from+1, 0)
}

func (s *Store) getChunks(ctx context.Context, where *filters.WhereBuilder, limit, offset int) ([]retrieval.Chunk, error) {
	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ChunkClass).
		WithWhere(where).
		WithLimit(limit).
		WithOffset(offset).
		WithFields(chunkFields(false)...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if err := graphqlError(res); err != nil {
		return nil, err
	}

	rows := getRows(res)
	chunks := make([]retrieval.Chunk, 0, len(rows))
	for _, props := range rows {
		chunks = append(chunks, parseChunk(props))
	}
	return chunks, nil
}

func chunkFields(withDistance bool) []graphql.Field {
	fields := []graphql.Field{
		{Name: vector.PropDocumentID},
		{Name: vector.PropChunkIndex},
		{Name: vector.PropChunkText},
		{Name: vector.PropTitle},
	}
	if withDistance {
		fields = append(fields, graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}})
	}
	return fields
}

func documentFilter(documentID string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{vector.PropDocumentID}).
		WithOperator(filters.Equal).
		WithValueString(documentID)
}

// searchFilter builds the where clause for f, or nil when f places no
// restriction.
func searchFilter(f retrieval.Filter) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder
	if f.ActiveOnly {
		operands = append(operands, filters.Where().
			WithPath([]string{vector.PropIsActive}).
			WithOperator(filters.Equal).
			WithValueBoolean(true))
	}
	if len(f.DocumentIDs) > 0 {
		ids := make([]*filters.WhereBuilder, 0, len(f.DocumentIDs))
		for _, id := range f.DocumentIDs {
			ids = append(ids, documentFilter(id))
		}
		if len(ids) == 1 {
			operands = append(operands, ids[0])
		} else {
			operands = append(operands, filters.Where().WithOperator(filters.Or).WithOperands(ids))
		}
	}

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(operands)
	}
}

func graphqlError(res *models.GraphQLResponse) error {
	if len(res.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return fmt.Errorf("graphql error: %s", strings.Join(msgs, "; "))
}

func getRows(res *models.GraphQLResponse) []map[string]interface{} {
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := data[vector.ChunkClass].([]interface{})
	if !ok {
		return nil
	}
	rows := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if props, ok := r.(map[string]interface{}); ok {
			rows = append(rows, props)
		}
	}
	return rows
}

func parseChunk(props map[string]interface{}) retrieval.Chunk {
	c := retrieval.Chunk{
		DocumentID: stringProp(props, vector.PropDocumentID),
		ChunkText:  stringProp(props, vector.PropChunkText),
	}
	if idx, ok := props[vector.PropChunkIndex].(float64); ok {
		c.ChunkIndex = int(idx)
	}
	return c
}

func stringProp(props map[string]interface{}, name string) string {
	v, _ := props[name].(string)
	return v
}
