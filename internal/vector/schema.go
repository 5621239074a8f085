package vector

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

const ChunkClass = "DocumentChunk"

// Chunk property names as stored in the index.
const (
	PropDocumentID = "documentId"
	PropChunkIndex = "chunkIndex"
	PropChunkText  = "chunkText"
	PropTitle      = "title"
	PropIsActive   = "isActive"
)

type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

func chunkProperties() []*models.Property {
	return []*models.Property{
		{Name: PropDocumentID, DataType: []string{"string"}},
		{Name: PropChunkIndex, DataType: []string{"int"}},
		{Name: PropChunkText, DataType: []string{"text"}},
		{Name: PropTitle, DataType: []string{"text"}},
		{Name: PropIsActive, DataType: []string{"boolean"}},
	}
}

// EnsureSchema creates the chunk class, or adds any properties an older
// deployment is missing. Vectors are supplied by the caller.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ChunkClass)
	if err != nil {
		return fmt.Errorf("check class %s: %w", ChunkClass, err)
	}

	properties := chunkProperties()
	if !exists {
		return client.CreateClass(ctx, &models.Class{
			Class:       ChunkClass,
			Description: "A chunk of a document",
			Vectorizer:  "none",
			Properties:  properties,
		})
	}

	class, err := client.GetClass(ctx, ChunkClass)
	if err != nil {
		return fmt.Errorf("get class %s: %w", ChunkClass, err)
	}

	have := make(map[string]bool, len(class.Properties))
	for _, p := range class.Properties {
		have[p.Name] = true
	}
	for _, p := range properties {
		if have[p.Name] {
			continue
		}
		if err := client.AddProperty(ctx, ChunkClass, p); err != nil {
			return fmt.Errorf("add property %s: %w", p.Name, err)
		}
	}
	return nil
}
