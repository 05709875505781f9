package retriever

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/siftlabs/sift/pkg/cache"
	"github.com/siftlabs/sift/pkg/types"
)

// Pipeline wraps a strategy with caching, timing, rank stamping, and
// metrics emission. It is the only layer that observes the cache and
// the k cap; strategies return their natural ordering and the pipeline
// normalizes it. Cache and metrics failures never propagate.
type Pipeline struct {
	strategy Retriever
	cache    cache.Cache
	metrics  MetricsRecorder
	logger   *slog.Logger
	ttl      time.Duration
	caching  bool
	defaultK int
	maxK     int
}

// NewPipeline wraps strategy with the shared pipeline behavior.
func NewPipeline(strategy Retriever, deps *Dependencies) *Pipeline {
	deps.normalize()
	return &Pipeline{
		strategy: strategy,
		cache:    deps.Cache,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		ttl:      deps.CacheTTL,
		caching:  deps.Retrieval.EnableCache && deps.Cache != nil,
		defaultK: deps.Retrieval.DefaultK,
		maxK:     deps.Retrieval.MaxK,
	}
}

// Name returns the wrapped strategy's name.
func (p *Pipeline) Name() string {
	return p.strategy.Name()
}

// Info describes the wrapped strategy.
func (p *Pipeline) Info() types.StrategyInfo {
	return p.strategy.Info()
}

// Strategy returns the wrapped strategy for direct access, e.g. to
// feed documents through a DocumentAdder.
func (p *Pipeline) Strategy() Retriever {
	return p.strategy
}

// Retrieve runs one retrieval with the full pipeline contract: cache
// read, strategy invocation under the caller's deadline, truncation to
// k with rank stamping, best-effort cache write, and exactly one
// metrics record per call.
func (p *Pipeline) Retrieve(ctx context.Context, query string, k int) (*types.RetrievalResult, error) {
	start := time.Now()
	k = p.clampK(k)
	name := p.strategy.Name()
	key := cache.RetrievalKey(name, query, k)

	if p.caching {
		if docs, ok := p.cacheGet(ctx, key); ok {
			result := &types.RetrievalResult{
				Documents: docs,
				Strategy:  name,
				Query:     query,
				LatencyMs: time.Since(start).Milliseconds(),
				CacheHit:  true,
			}
			p.emit(result, nil)
			return result, nil
		}
	}

	docs, err := p.strategy.Retrieve(ctx, query, k)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		p.emit(&types.RetrievalResult{Strategy: name, Query: query, LatencyMs: latency}, err)
		return nil, err
	}

	docs = finalize(name, docs, k)
	result := &types.RetrievalResult{
		Documents: docs,
		Strategy:  name,
		Query:     query,
		LatencyMs: latency,
	}

	if p.caching {
		p.cacheSet(ctx, key, docs)
	}
	p.emit(result, nil)
	return result, nil
}

// clampK normalizes the requested result count.
func (p *Pipeline) clampK(k int) int {
	if k <= 0 {
		k = p.defaultK
	}
	if k <= 0 {
		k = 1
	}
	if p.maxK > 0 && k > p.maxK {
		k = p.maxK
	}
	return k
}

// finalize truncates to k and stamps strategy and 1-based rank. Ranks
// are re-stamped after truncation so they stay contiguous.
func finalize(strategy string, docs []types.Document, k int) []types.Document {
	if len(docs) > k {
		docs = docs[:k]
	}
	for i := range docs {
		docs[i].SetMeta(types.MetaStrategy, strategy)
		docs[i].SetMeta(types.MetaRank, i+1)
	}
	return docs
}

func (p *Pipeline) cacheGet(ctx context.Context, key string) ([]types.Document, bool) {
	data, err := p.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var docs []types.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		p.logger.Debug("discarding undecodable cache entry", "key", key, "error", err)
		return nil, false
	}
	return docs, true
}

func (p *Pipeline) cacheSet(ctx context.Context, key string, docs []types.Document) {
	data, err := json.Marshal(docs)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, key, data, p.ttl); err != nil {
		p.logger.Debug("cache write skipped", "key", key, "error", err)
	}
}

// emit records metrics and the performance log line for one call.
func (p *Pipeline) emit(result *types.RetrievalResult, err error) {
	tokens := 0
	for _, doc := range result.Documents {
		tokens += doc.TokenCount()
	}

	m := types.RetrievalMetrics{
		Strategy:   result.Strategy,
		Query:      result.Query,
		NumResults: len(result.Documents),
		LatencyMs:  result.LatencyMs,
		TokenCount: tokens,
		CacheHit:   result.CacheHit,
	}
	if err != nil {
		m.Err = err.Error()
	}

	if p.metrics != nil {
		p.metrics.RecordRetrieval(m)
	}

	if err != nil {
		p.logger.Warn("retrieval failed",
			"strategy", m.Strategy,
			"latency_ms", m.LatencyMs,
			"error", err)
		return
	}
	p.logger.Debug("retrieval complete",
		"strategy", m.Strategy,
		"num_results", m.NumResults,
		"latency_ms", m.LatencyMs,
		"token_count", m.TokenCount,
		"cache_hit", m.CacheHit)
}
