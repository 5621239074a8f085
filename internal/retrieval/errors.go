package retrieval

import (
	"errors"
	"fmt"
)

// ErrInvalidLimit is returned when a caller asks for a non-positive number of results.
var ErrInvalidLimit = errors.New("limit must be greater than zero")

// EmbeddingError reports that the query could not be embedded.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return fmt.Sprintf("embedding failed: %v", e.Err) }
func (e *EmbeddingError) Unwrap() error { return e.Err }

// IndexError reports that the vector index could not be queried.
type IndexError struct {
	Err error
}

func (e *IndexError) Error() string { return fmt.Sprintf("vector index failed: %v", e.Err) }
func (e *IndexError) Unwrap() error { return e.Err }

// ExpansionError reports that neighbouring chunks could not be fetched.
type ExpansionError struct {
	DocumentID string
	ChunkIndex int
	Err        error
}

func (e *ExpansionError) Error() string {
	return fmt.Sprintf("expand chunk %d of document %s: %v", e.ChunkIndex, e.DocumentID, e.Err)
}

func (e *ExpansionError) Unwrap() error { return e.Err }
