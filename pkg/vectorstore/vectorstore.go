// Package vectorstore provides the vector database abstraction behind
// the retrieval strategies. Qdrant is the primary backend, Pinecone is
// supported for managed deployments, and an in-memory store backs tests
// and small corpora.
package vectorstore

import (
	"context"
	"errors"

	"github.com/siftlabs/sift/pkg/types"
)

// Common errors returned by stores.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidQuery     = errors.New("invalid query: empty vector")
	ErrConnectionFailed = errors.New("connection to vector database failed")
	ErrUnknownBackend   = errors.New("unknown vector store backend")
)

// SearchRequest describes a similarity search.
type SearchRequest struct {
	// Collection to search in.
	Collection string

	// Vector is the query embedding.
	Vector []float32

	// K is the maximum number of results.
	K int

	// ScoreThreshold drops results scoring below it. Zero disables.
	ScoreThreshold float64

	// Filter restricts results to documents whose metadata matches all
	// entries (equality only).
	Filter map[string]interface{}
}

// CollectionStats describes a collection.
type CollectionStats struct {
	Name        string `json:"name"`
	VectorCount int64  `json:"vector_count"`
	Dimension   int    `json:"dimension"`
}

// Store is the vector database interface used by retrieval strategies
// and the ingestion pipeline.
type Store interface {
	// SimilaritySearch returns up to K documents nearest to the query
	// vector, highest similarity first.
	SimilaritySearch(ctx context.Context, req SearchRequest) ([]types.ScoredDocument, error)

	// Upsert writes vectors with document payloads into a collection.
	Upsert(ctx context.Context, collection string, vectors []types.Vector) error

	// Delete removes vectors by ID from a collection.
	Delete(ctx context.Context, collection string, ids []string) error

	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context, collection string, dimension int) error

	// Stats returns collection statistics.
	Stats(ctx context.Context, collection string) (*CollectionStats, error)

	// Ping verifies connectivity to the backend.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Reserved payload fields. The document body and original ID travel in
// the payload; remaining fields map to document metadata.
const (
	contentField = "content"
	docIDField   = "doc_id"
)

// VectorFromDocument flattens a document into a vector ready for Upsert.
func VectorFromDocument(doc types.Document, values []float32) types.Vector {
	payload := make(map[string]interface{}, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		payload[k] = v
	}
	payload[contentField] = doc.Content
	payload[docIDField] = doc.ID

	return types.Vector{
		ID:       doc.ID,
		Values:   values,
		Metadata: payload,
	}
}

// payloadToDoc rebuilds a document from a vector payload. Text is read
// from the content field, falling back to fields other ingestion tools
// commonly use.
func payloadToDoc(fallbackID string, payload map[string]interface{}) types.Document {
	doc := types.Document{Metadata: make(map[string]interface{})}

	for k, v := range payload {
		switch k {
		case contentField:
			if s, ok := v.(string); ok {
				doc.Content = s
			}
		case docIDField:
			if s, ok := v.(string); ok && s != "" {
				doc.ID = s
			}
		default:
			doc.Metadata[k] = v
		}
	}

	if doc.ID == "" {
		doc.ID = fallbackID
	}

	if doc.Content == "" {
		for _, field := range []string{"text", "chunk_text", "page_content"} {
			if s, ok := doc.Metadata[field].(string); ok {
				doc.Content = s
				delete(doc.Metadata, field)
				break
			}
		}
	}

	return doc
}

// matchesFilter reports whether metadata satisfies every filter entry.
func matchesFilter(metadata map[string]interface{}, filter map[string]interface{}) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}
