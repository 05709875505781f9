package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/siftlabs/sift/pkg/llm"
	"github.com/siftlabs/sift/pkg/types"
)

// RerankConfig holds LLM reranking settings.
type RerankConfig struct {
	// InitialK is the candidate pool fetched from the base strategy
	// before reranking. The effective pool is at least 2*k.
	InitialK int
}

// DefaultRerankConfig returns the standard pool size.
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{InitialK: 20}
}

// Candidate snippets are truncated in the rerank prompt.
const rerankSnippetChars = 500

// RerankRetriever fetches an inflated candidate pool from a base
// strategy and asks the LLM for a relevance ordering. On LLM failure or
// a pool of one, the base ordering stands.
type RerankRetriever struct {
	base   Retriever
	client llm.Client
	logger *slog.Logger
	cfg    RerankConfig
}

// NewRerankRetriever creates the reranking strategy over a base
// retriever, usually vector.
func NewRerankRetriever(base Retriever, client llm.Client, cfg RerankConfig, logger *slog.Logger) *RerankRetriever {
	if cfg.InitialK <= 0 {
		cfg.InitialK = DefaultRerankConfig().InitialK
	}
	return &RerankRetriever{
		base:   base,
		client: client,
		logger: logger,
		cfg:    cfg,
	}
}

// Name returns the strategy name.
func (r *RerankRetriever) Name() string {
	return StrategyRerank
}

// Info describes the strategy.
func (r *RerankRetriever) Info() types.StrategyInfo {
	return types.StrategyInfo{
		Strategy:    StrategyRerank,
		Description: "LLM reordering of an inflated candidate pool; trades latency for precision at the top",
		Parameters: map[string]interface{}{
			"initial_k":     r.cfg.InitialK,
			"base_strategy": r.base.Name(),
		},
	}
}

// Retrieve fetches max(InitialK, 2*k) candidates from the base
// strategy, reorders them by LLM-judged relevance, stamps each with
// rerank_score = pool size minus its reranked position, and returns the
// top k.
func (r *RerankRetriever) Retrieve(ctx context.Context, query string, k int) ([]types.Document, error) {
	initialK := r.cfg.InitialK
	if 2*k > initialK {
		initialK = 2 * k
	}

	candidates, err := r.base.Retrieve(ctx, query, initialK)
	if err != nil {
		return nil, err
	}
	if len(candidates) <= 1 || r.client == nil {
		if len(candidates) > k {
			candidates = candidates[:k]
		}
		return candidates, nil
	}

	perm := r.rerankOrder(ctx, query, candidates)
	reordered := make([]types.Document, 0, k)
	for pos, idx := range perm {
		if pos == k {
			break
		}
		doc := candidates[idx-1]
		doc.SetMeta(types.MetaRerankScore, float64(len(candidates)-pos))
		reordered = append(reordered, doc)
	}
	return reordered, nil
}

// rerankOrder asks the LLM for a relevance permutation of the
// candidates. Failures keep the base ordering.
func (r *RerankRetriever) rerankOrder(ctx context.Context, query string, candidates []types.Document) []int {
	reply, err := r.client.Complete(ctx, llm.Request{
		Prompt:      buildRerankPrompt(query, candidates),
		Temperature: 0,
	})
	if err != nil {
		r.logger.Warn("rerank call failed, keeping base order", "error", err)
		return identityPermutation(len(candidates))
	}
	return parsePermutation(reply, len(candidates))
}

func buildRerankPrompt(query string, candidates []types.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rank the following documents by relevance to the query.\n\nQuery: %s\n\nDocuments:\n", query)
	for i, doc := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, snippet(doc.Content, rerankSnippetChars))
	}
	b.WriteString("\nReply with the document numbers from most to least relevant, one per line. Output numbers only.")
	return b.String()
}
