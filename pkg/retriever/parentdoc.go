package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/siftlabs/sift/pkg/embedding"
	"github.com/siftlabs/sift/pkg/types"
	"github.com/siftlabs/sift/pkg/vectorstore"
)

// ParentDocConfig holds the two-level chunking settings.
type ParentDocConfig struct {
	// Collection is the base collection name; child chunks live in
	// Collection + "_child_chunks".
	Collection string

	// ParentChunkSize is the target parent chunk length in characters.
	ParentChunkSize int

	// ChildChunkSize is the target child chunk length in characters.
	ChildChunkSize int

	// ChunkOverlap is carried between adjacent chunks at both levels.
	ChunkOverlap int

	// FetchMultiplier inflates the child search so enough distinct
	// parents survive deduplication.
	FetchMultiplier int
}

// DefaultParentDocConfig returns the standard chunking geometry.
func DefaultParentDocConfig(collection string) ParentDocConfig {
	return ParentDocConfig{
		Collection:      collection,
		ParentChunkSize: 2000,
		ChildChunkSize:  400,
		ChunkOverlap:    50,
		FetchMultiplier: 3,
	}
}

// ParentDocRetriever searches small child chunks for precision and
// returns their enclosing parent chunks for context. The parent mapping
// lives in process memory only; a restart rebuilds it through ingest.
type ParentDocRetriever struct {
	store    vectorstore.Store
	embedder embedding.Provider
	logger   *slog.Logger
	cfg      ParentDocConfig

	mu       sync.RWMutex
	parents  map[string]types.Document
	children map[string][]string // parent ID -> child chunk IDs
}

// NewParentDocRetriever creates the hierarchical chunking strategy.
func NewParentDocRetriever(store vectorstore.Store, embedder embedding.Provider, cfg ParentDocConfig, logger *slog.Logger) *ParentDocRetriever {
	def := DefaultParentDocConfig(cfg.Collection)
	if cfg.ParentChunkSize <= 0 {
		cfg.ParentChunkSize = def.ParentChunkSize
	}
	if cfg.ChildChunkSize <= 0 {
		cfg.ChildChunkSize = def.ChildChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = def.ChunkOverlap
	}
	if cfg.FetchMultiplier <= 0 {
		cfg.FetchMultiplier = def.FetchMultiplier
	}
	return &ParentDocRetriever{
		store:    store,
		embedder: embedder,
		logger:   logger,
		cfg:      cfg,
		parents:  make(map[string]types.Document),
		children: make(map[string][]string),
	}
}

// Name returns the strategy name.
func (r *ParentDocRetriever) Name() string {
	return StrategyParentDoc
}

// Info describes the strategy.
func (r *ParentDocRetriever) Info() types.StrategyInfo {
	r.mu.RLock()
	parentCount := len(r.parents)
	r.mu.RUnlock()

	return types.StrategyInfo{
		Strategy:    StrategyParentDoc,
		Description: "searches small child chunks, returns enclosing parent chunks for fuller context",
		Parameters: map[string]interface{}{
			"parent_chunk_size": r.cfg.ParentChunkSize,
			"child_chunk_size":  r.cfg.ChildChunkSize,
			"chunk_overlap":     r.cfg.ChunkOverlap,
			"indexed_parents":   parentCount,
		},
	}
}

// Retrieve embeds the query, searches the child collection with an
// inflated fetch, and resolves hits to deduplicated parents, best child
// first.
func (r *ParentDocRetriever) Retrieve(ctx context.Context, query string, k int) ([]types.Document, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, newError(StrategyParentDoc, KindAdapterUnavailable, fmt.Errorf("embed query: %w", err))
	}

	hits, err := r.store.SimilaritySearch(ctx, vectorstore.SearchRequest{
		Collection: r.childCollection(),
		Vector:     vec,
		K:          k * r.cfg.FetchMultiplier,
	})
	if errors.Is(err, vectorstore.ErrNotFound) {
		// Nothing ingested yet. An empty corpus is an empty result.
		return nil, nil
	}
	if err != nil {
		return nil, newError(StrategyParentDoc, KindAdapterUnavailable, fmt.Errorf("child search: %w", err))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, k)
	results := make([]types.Document, 0, k)
	for _, hit := range hits {
		parentID, _ := hit.Document.Metadata[types.MetaParentDocumentID].(string)
		if parentID == "" || seen[parentID] {
			continue
		}
		parent, ok := r.parents[parentID]
		if !ok {
			r.logger.Debug("child hit without a known parent", "parent_id", parentID)
			continue
		}
		seen[parentID] = true

		doc := parent.Clone()
		doc.SetMeta(types.MetaSimilarityScore, hit.Score)
		doc.SetMeta(types.MetaChunkType, "parent")
		doc.SetMeta(types.MetaParentChunkSize, r.cfg.ParentChunkSize)
		doc.SetMeta(types.MetaChildChunkSize, r.cfg.ChildChunkSize)
		results = append(results, doc)
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// AddDocuments splits documents into parent and child chunks, embeds
// the children into the child collection, and records the parent
// mapping.
func (r *ParentDocRetriever) AddDocuments(ctx context.Context, docs []types.Document) error {
	if len(docs) == 0 {
		return nil
	}

	var parents []types.Document
	var children []types.Document
	for _, doc := range docs {
		p, c := r.splitDocument(doc)
		parents = append(parents, p...)
		children = append(children, c...)
	}
	if len(children) == 0 {
		return nil
	}

	texts := make([]string, len(children))
	for i, child := range children {
		texts[i] = child.Content
	}
	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return newError(StrategyParentDoc, KindAdapterUnavailable, fmt.Errorf("embed child chunks: %w", err))
	}

	if err := r.store.EnsureCollection(ctx, r.childCollection(), r.embedder.Dimension()); err != nil {
		return newError(StrategyParentDoc, KindAdapterUnavailable, fmt.Errorf("ensure child collection: %w", err))
	}

	items := make([]types.Vector, len(children))
	for i, child := range children {
		items[i] = vectorstore.VectorFromDocument(child, vectors[i])
	}
	if err := r.store.Upsert(ctx, r.childCollection(), items); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, parent := range parents {
		r.parents[parent.ID] = parent
	}
	for _, child := range children {
		parentID, _ := child.Metadata[types.MetaParentDocumentID].(string)
		r.children[parentID] = append(r.children[parentID], child.ID)
	}
	return nil
}

// ChildChunks returns the child chunk IDs recorded for a parent.
func (r *ParentDocRetriever) ChildChunks(parentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.children[parentID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// ParentCount returns the number of indexed parent chunks.
func (r *ParentDocRetriever) ParentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.parents)
}

func (r *ParentDocRetriever) childCollection() string {
	return r.cfg.Collection + "_child_chunks"
}

// splitDocument produces the parent chunks for a document and the child
// chunks nested inside each parent. Children carry the parent linkage
// in their metadata so search hits resolve back to parents.
func (r *ParentDocRetriever) splitDocument(doc types.Document) (parents, children []types.Document) {
	for pi, parentText := range SplitText(doc.Content, r.cfg.ParentChunkSize, r.cfg.ChunkOverlap) {
		parentID := fmt.Sprintf("%s_parent_%d", doc.ID, pi)

		parent := doc.Clone()
		parent.ID = parentID
		parent.Content = parentText
		parent.SetMeta(types.MetaChunkType, "parent")
		parents = append(parents, parent)

		for ci, childText := range SplitText(parentText, r.cfg.ChildChunkSize, r.cfg.ChunkOverlap) {
			child := types.NewDocument(fmt.Sprintf("%s_child_%d", parentID, ci), childText)
			if source, ok := doc.Metadata[types.MetaSource]; ok {
				child.SetMeta(types.MetaSource, source)
			}
			child.SetMeta(types.MetaChunkType, "child")
			child.SetMeta(types.MetaParentDocumentID, parentID)
			children = append(children, child)
		}
	}
	return parents, children
}
