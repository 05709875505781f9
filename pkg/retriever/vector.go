package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/siftlabs/sift/pkg/embedding"
	"github.com/siftlabs/sift/pkg/types"
	"github.com/siftlabs/sift/pkg/vectorstore"
)

// VectorConfig holds dense retrieval settings.
type VectorConfig struct {
	// Collection is the vector store collection to search.
	Collection string

	// ScoreThreshold drops results below the similarity floor. Zero
	// disables filtering.
	ScoreThreshold float64
}

// VectorRetriever performs dense similarity search: the query is
// embedded on every call (the embedder keeps its own cache) and the
// vector store returns the nearest neighbors by cosine similarity.
type VectorRetriever struct {
	store    vectorstore.Store
	embedder embedding.Provider
	logger   *slog.Logger
	cfg      VectorConfig
}

// NewVectorRetriever creates the dense retrieval strategy.
func NewVectorRetriever(store vectorstore.Store, embedder embedding.Provider, cfg VectorConfig, logger *slog.Logger) *VectorRetriever {
	return &VectorRetriever{
		store:    store,
		embedder: embedder,
		logger:   logger,
		cfg:      cfg,
	}
}

// Name returns the strategy name.
func (r *VectorRetriever) Name() string {
	return StrategyVector
}

// Info describes the strategy.
func (r *VectorRetriever) Info() types.StrategyInfo {
	return types.StrategyInfo{
		Strategy:    StrategyVector,
		Description: "dense embedding similarity search; strong on semantic and paraphrased queries",
		Parameters: map[string]interface{}{
			"collection":      r.cfg.Collection,
			"score_threshold": r.cfg.ScoreThreshold,
			"embedding_model": r.embedder.ModelName(),
		},
	}
}

// Retrieve embeds the query and returns the nearest documents above the
// similarity floor, each stamped with similarity_score.
func (r *VectorRetriever) Retrieve(ctx context.Context, query string, k int) ([]types.Document, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, newError(StrategyVector, KindAdapterUnavailable, fmt.Errorf("embed query: %w", err))
	}

	scored, err := r.store.SimilaritySearch(ctx, vectorstore.SearchRequest{
		Collection:     r.cfg.Collection,
		Vector:         vec,
		K:              k,
		ScoreThreshold: r.cfg.ScoreThreshold,
	})
	if errors.Is(err, vectorstore.ErrNotFound) {
		// Nothing ingested yet. An empty corpus is an empty result.
		return nil, nil
	}
	if err != nil {
		return nil, newError(StrategyVector, KindAdapterUnavailable, fmt.Errorf("similarity search: %w", err))
	}

	results := make([]types.Document, 0, len(scored))
	for _, sd := range scored {
		doc := sd.Document
		doc.SetMeta(types.MetaSimilarityScore, sd.Score)
		results = append(results, doc)
	}
	return results, nil
}

// AddDocuments embeds documents and upserts them into the collection.
func (r *VectorRetriever) AddDocuments(ctx context.Context, docs []types.Document) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return newError(StrategyVector, KindAdapterUnavailable, fmt.Errorf("embed documents: %w", err))
	}

	if err := r.store.EnsureCollection(ctx, r.cfg.Collection, r.embedder.Dimension()); err != nil {
		return newError(StrategyVector, KindAdapterUnavailable, fmt.Errorf("ensure collection: %w", err))
	}

	items := make([]types.Vector, len(docs))
	for i, doc := range docs {
		items[i] = vectorstore.VectorFromDocument(doc, vectors[i])
	}
	return r.store.Upsert(ctx, r.cfg.Collection, items)
}

// DeleteDocuments removes documents from the collection by ID.
func (r *VectorRetriever) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.store.Delete(ctx, r.cfg.Collection, ids)
}

// CollectionInfo reports vector store statistics for the collection.
func (r *VectorRetriever) CollectionInfo(ctx context.Context) (*vectorstore.CollectionStats, error) {
	return r.store.Stats(ctx, r.cfg.Collection)
}
