package retriever

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/siftlabs/sift/pkg/docstore"
	"github.com/siftlabs/sift/pkg/types"
)

// KeywordConfig holds the Okapi BM25 parameters.
type KeywordConfig struct {
	// K1 controls term-frequency saturation.
	K1 float64

	// B controls document-length normalization.
	B float64
}

// DefaultKeywordConfig returns the standard Okapi parameters.
func DefaultKeywordConfig() KeywordConfig {
	return KeywordConfig{K1: 1.5, B: 0.75}
}

// KeywordRetriever scores documents with BM25 over a lowercased
// whitespace tokenization. The index is built lazily on first use and
// rebuilt whenever the document store has changed since the last build.
type KeywordRetriever struct {
	docs   *docstore.Store
	logger *slog.Logger
	cfg    KeywordConfig

	mu      sync.RWMutex
	index   *bm25Index
	version int64
}

// NewKeywordRetriever creates the BM25 strategy over the document store.
func NewKeywordRetriever(docs *docstore.Store, cfg KeywordConfig, logger *slog.Logger) *KeywordRetriever {
	if cfg.K1 <= 0 {
		cfg.K1 = DefaultKeywordConfig().K1
	}
	if cfg.B <= 0 {
		cfg.B = DefaultKeywordConfig().B
	}
	return &KeywordRetriever{
		docs:   docs,
		logger: logger,
		cfg:    cfg,
	}
}

// Name returns the strategy name.
func (r *KeywordRetriever) Name() string {
	return StrategyKeyword
}

// Info describes the strategy.
func (r *KeywordRetriever) Info() types.StrategyInfo {
	return types.StrategyInfo{
		Strategy:    StrategyKeyword,
		Description: "sparse BM25 scoring over exact terms; strong on identifiers and short factual queries",
		Parameters: map[string]interface{}{
			"k1":                r.cfg.K1,
			"b":                 r.cfg.B,
			"indexed_documents": r.docs.Len(),
		},
	}
}

// Retrieve scores all indexed documents against the query and returns
// the top k with positive scores, best first. Ties keep store insertion
// order. An empty corpus or an unbuildable index yields an empty result.
func (r *KeywordRetriever) Retrieve(ctx context.Context, query string, k int) ([]types.Document, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	idx := r.currentIndex(ctx)
	if idx.size() == 0 {
		return nil, nil
	}

	type scored struct {
		pos   int
		score float64
	}
	hits := make([]scored, 0, idx.size())
	for pos := 0; pos < idx.size(); pos++ {
		if s := idx.score(terms, pos, r.cfg.K1, r.cfg.B); s > 0 {
			hits = append(hits, scored{pos: pos, score: s})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	results := make([]types.Document, 0, len(hits))
	for _, h := range hits {
		doc := idx.docs[h.pos].Clone()
		doc.SetMeta(types.MetaBM25Score, h.score)
		results = append(results, doc)
	}
	return results, nil
}

// AddDocuments stores documents; the index rebuilds on next retrieval.
func (r *KeywordRetriever) AddDocuments(ctx context.Context, docs []types.Document) error {
	r.docs.Add(ctx, docs...)
	return nil
}

// RebuildIndex drops the index so the next retrieval rebuilds it.
func (r *KeywordRetriever) RebuildIndex() {
	r.mu.Lock()
	r.index = nil
	r.mu.Unlock()
}

// currentIndex returns an index matching the store's current version,
// rebuilding under the write lock when stale. Concurrent retrievals
// either observe the previous index or wait for the rebuild.
func (r *KeywordRetriever) currentIndex(ctx context.Context) *bm25Index {
	version := r.docs.Version()

	r.mu.RLock()
	if r.index != nil && r.version == version {
		idx := r.index
		r.mu.RUnlock()
		return idx
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	version = r.docs.Version()
	if r.index != nil && r.version == version {
		return r.index
	}

	r.index = buildBM25Index(r.docs.GetAll(ctx))
	r.version = version
	r.logger.Debug("rebuilt keyword index",
		"documents", r.index.size(),
		"terms", len(r.index.postings))
	return r.index
}

// bm25Index holds the term statistics for one corpus snapshot. Indexes
// are immutable once built; staleness is detected via the store version.
type bm25Index struct {
	docs     []types.Document
	postings map[string]map[int]int // term -> doc position -> frequency
	docLen   []int
	avgLen   float64
}

func buildBM25Index(docs []types.Document) *bm25Index {
	idx := &bm25Index{
		docs:     docs,
		postings: make(map[string]map[int]int),
		docLen:   make([]int, len(docs)),
	}

	total := 0
	for pos, doc := range docs {
		terms := tokenize(doc.Content)
		idx.docLen[pos] = len(terms)
		total += len(terms)
		for _, term := range terms {
			if idx.postings[term] == nil {
				idx.postings[term] = make(map[int]int)
			}
			idx.postings[term][pos]++
		}
	}
	if len(docs) > 0 {
		idx.avgLen = float64(total) / float64(len(docs))
	}
	return idx
}

func (idx *bm25Index) size() int {
	return len(idx.docs)
}

// score computes the BM25 contribution of every query term for the
// document at pos. Repeated query terms count once per occurrence.
func (idx *bm25Index) score(terms []string, pos int, k1, b float64) float64 {
	if idx.avgLen == 0 {
		return 0
	}

	n := float64(len(idx.docs))
	docLen := float64(idx.docLen[pos])
	var score float64
	for _, term := range terms {
		postings := idx.postings[term]
		tf := float64(postings[pos])
		if tf == 0 {
			continue
		}
		df := float64(len(postings))
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)
		score += idf * (tf * (k1 + 1)) / (tf + k1*(1-b+b*docLen/idx.avgLen))
	}
	return score
}

// tokenize lowercases and splits on whitespace. Query and documents go
// through the same function so term matching stays consistent.
func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
