// Package docstore provides the in-memory document store backing
// keyword search and parent document lookup. The vector store holds
// embeddings; this store holds full document text.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/siftlabs/sift/pkg/types"
)

// ErrNotFound indicates the document ID is not in the store.
var ErrNotFound = errors.New("document not found")

// Store holds documents in memory, keyed by ID, preserving insertion
// order. Version increments on every mutation so lazily built indexes
// can detect staleness.
type Store struct {
	mu      sync.RWMutex
	docs    map[string]types.Document
	order   []string
	counter int64
	version int64
}

// New creates an empty document store.
func New() *Store {
	return &Store{
		docs: make(map[string]types.Document),
	}
}

// Add inserts documents, assigning sequential IDs to documents without
// one. Returns the IDs in input order.
func (s *Store) Add(ctx context.Context, docs ...types.Document) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			s.counter++
			doc.ID = fmt.Sprintf("doc_%d", s.counter)
		}
		if _, exists := s.docs[doc.ID]; !exists {
			s.order = append(s.order, doc.ID)
		}
		s.docs[doc.ID] = doc
		ids[i] = doc.ID
	}

	s.version++
	return ids
}

// Get returns the document with the given ID.
func (s *Store) Get(ctx context.Context, id string) (types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return types.Document{}, ErrNotFound
	}
	return doc.Clone(), nil
}

// GetAll returns all documents in insertion order.
func (s *Store) GetAll(ctx context.Context) []types.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]types.Document, 0, len(s.order))
	for _, id := range s.order {
		docs = append(docs, s.docs[id].Clone())
	}
	return docs
}

// Remove deletes documents by ID. Missing IDs are ignored.
func (s *Store) Remove(ctx context.Context, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	for _, id := range ids {
		if _, ok := s.docs[id]; !ok {
			continue
		}
		delete(s.docs, id)
		removed = true
	}

	if removed {
		kept := s.order[:0]
		for _, id := range s.order {
			if _, ok := s.docs[id]; ok {
				kept = append(kept, id)
			}
		}
		s.order = kept
		s.version++
	}
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Version returns the mutation counter. Consumers caching derived
// indexes compare versions to decide whether to rebuild.
func (s *Store) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Stats summarizes the store contents.
type Stats struct {
	DocumentCount     int      `json:"document_count"`
	TotalContentBytes int64    `json:"total_content_bytes"`
	MetadataKeys      []string `json:"metadata_keys"`
}

// Stats reports the document count, total content bytes, and the sorted
// set of metadata keys in use.
func (s *Store) Stats(ctx context.Context) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	stats := Stats{DocumentCount: len(s.docs)}
	for _, doc := range s.docs {
		stats.TotalContentBytes += int64(len(doc.Content))
		for key := range doc.Metadata {
			seen[key] = struct{}{}
		}
	}

	stats.MetadataKeys = make([]string, 0, len(seen))
	for key := range seen {
		stats.MetadataKeys = append(stats.MetadataKeys, key)
	}
	sort.Strings(stats.MetadataKeys)
	return stats
}
