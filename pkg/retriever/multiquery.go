package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/siftlabs/sift/pkg/llm"
	"github.com/siftlabs/sift/pkg/types"
)

// MultiQueryConfig holds query expansion settings.
type MultiQueryConfig struct {
	// NumQueries is how many alternative phrasings the LLM produces.
	NumQueries int

	// FetchMultiplier inflates the per-variant fetch so the union
	// survives deduplication.
	FetchMultiplier int
}

// DefaultMultiQueryConfig returns the standard expansion settings.
func DefaultMultiQueryConfig() MultiQueryConfig {
	return MultiQueryConfig{NumQueries: 3, FetchMultiplier: 2}
}

const multiQueryPrompt = `Generate %d alternative phrasings of the following search query. Keep the meaning, vary the wording and specificity. Reply with one query per line, numbered, and nothing else.

Query: %s`

// MultiQueryRetriever expands the query into alternative phrasings via
// the LLM, runs the base strategy for each variant, and merges the
// results keeping the first occurrence of each unique document. If
// expansion fails, the base strategy runs once on the original query.
type MultiQueryRetriever struct {
	base   Retriever
	client llm.Client
	logger *slog.Logger
	cfg    MultiQueryConfig
}

// NewMultiQueryRetriever creates the expansion strategy over a base
// retriever, usually vector.
func NewMultiQueryRetriever(base Retriever, client llm.Client, cfg MultiQueryConfig, logger *slog.Logger) *MultiQueryRetriever {
	def := DefaultMultiQueryConfig()
	if cfg.NumQueries <= 0 {
		cfg.NumQueries = def.NumQueries
	}
	if cfg.FetchMultiplier <= 0 {
		cfg.FetchMultiplier = def.FetchMultiplier
	}
	return &MultiQueryRetriever{
		base:   base,
		client: client,
		logger: logger,
		cfg:    cfg,
	}
}

// Name returns the strategy name.
func (r *MultiQueryRetriever) Name() string {
	return StrategyMultiQuery
}

// Info describes the strategy.
func (r *MultiQueryRetriever) Info() types.StrategyInfo {
	return types.StrategyInfo{
		Strategy:    StrategyMultiQuery,
		Description: "LLM query expansion over a base strategy; recovers documents a single phrasing misses",
		Parameters: map[string]interface{}{
			"num_queries":   r.cfg.NumQueries,
			"base_strategy": r.base.Name(),
		},
	}
}

// Retrieve runs the base strategy for the original query and each
// expansion, deduplicates by content identity, preserves the order in
// which each unique document first appeared, and returns the first k.
func (r *MultiQueryRetriever) Retrieve(ctx context.Context, query string, k int) ([]types.Document, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	variants := r.expand(ctx, query)
	fetchK := r.cfg.FetchMultiplier * k

	seen := make(map[string]bool)
	var merged []types.Document
	for _, variant := range variants {
		docs, err := r.base.Retrieve(ctx, variant, fetchK)
		if err != nil {
			r.logger.Warn("query variant failed",
				"kind", string(KindSubStrategyFailure),
				"variant", variant,
				"error", err)
			continue
		}
		for _, doc := range docs {
			fp := contentFingerprint(doc.Content, dedupPrefixChars)
			if seen[fp] {
				continue
			}
			seen[fp] = true
			merged = append(merged, doc)
		}
	}
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// expand returns the original query followed by up to NumQueries LLM
// phrasings. Any failure degrades to the original query alone.
func (r *MultiQueryRetriever) expand(ctx context.Context, query string) []string {
	if r.client == nil {
		return []string{query}
	}

	reply, err := r.client.Complete(ctx, llm.Request{
		Prompt:      fmt.Sprintf(multiQueryPrompt, r.cfg.NumQueries, query),
		Temperature: 0,
	})
	if err != nil {
		r.logger.Warn("query expansion failed, using original query", "error", err)
		return []string{query}
	}

	expansions := parseQueryList(reply, r.cfg.NumQueries)
	if len(expansions) == 0 {
		r.logger.Warn("query expansion returned no usable variants", "reply_length", len(reply))
		return []string{query}
	}
	return append([]string{query}, expansions...)
}
