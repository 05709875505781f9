package vectorstore

import (
	"context"
	"sort"
	"sync"

	"github.com/siftlabs/sift/pkg/math"
	"github.com/siftlabs/sift/pkg/types"
)

// MemoryStore is an in-memory Store for tests and small corpora.
// Search is a linear scan with cosine similarity.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	dimension int
	entries   map[string]memoryEntry
}

type memoryEntry struct {
	values []float32
	doc    types.Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memoryCollection),
	}
}

// SimilaritySearch returns up to K documents nearest to the query vector.
func (s *MemoryStore) SimilaritySearch(ctx context.Context, req SearchRequest) ([]types.ScoredDocument, error) {
	if len(req.Vector) == 0 {
		return nil, ErrInvalidQuery
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, ok := s.collections[req.Collection]
	if !ok {
		return nil, ErrNotFound
	}

	k := req.K
	if k <= 0 {
		k = 10
	}

	scored := make([]types.ScoredDocument, 0, len(coll.entries))
	for _, entry := range coll.entries {
		if len(req.Filter) > 0 && !matchesFilter(entry.doc.Metadata, req.Filter) {
			continue
		}

		score := math.CosineSimilarity(req.Vector, entry.values)
		if req.ScoreThreshold > 0 && score < req.ScoreThreshold {
			continue
		}

		scored = append(scored, types.ScoredDocument{
			Document: entry.doc.Clone(),
			Score:    score,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Document.ID < scored[j].Document.ID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Upsert writes vectors with document payloads into a collection,
// creating the collection on first write.
func (s *MemoryStore) Upsert(ctx context.Context, collection string, vectors []types.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		coll = &memoryCollection{entries: make(map[string]memoryEntry)}
		s.collections[collection] = coll
	}

	for _, v := range vectors {
		if coll.dimension == 0 {
			coll.dimension = len(v.Values)
		}
		coll.entries[v.ID] = memoryEntry{
			values: v.Values,
			doc:    payloadToDoc(v.ID, v.Metadata),
		}
	}
	return nil
}

// Delete removes vectors by document ID from a collection.
func (s *MemoryStore) Delete(ctx context.Context, collection string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		return ErrNotFound
	}
	for _, id := range ids {
		delete(coll.entries, id)
	}
	return nil
}

// EnsureCollection creates the collection if it does not exist.
func (s *MemoryStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collection]; !ok {
		s.collections[collection] = &memoryCollection{
			dimension: dimension,
			entries:   make(map[string]memoryEntry),
		}
	}
	return nil
}

// Stats returns collection statistics.
func (s *MemoryStore) Stats(ctx context.Context, collection string) (*CollectionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, ok := s.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	return &CollectionStats{
		Name:        collection,
		VectorCount: int64(len(coll.entries)),
		Dimension:   coll.dimension,
	}, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close releases resources.
func (s *MemoryStore) Close() error {
	return nil
}
