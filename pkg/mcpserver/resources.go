package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	stdmath "math"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/siftlabs/sift/pkg/metrics"
	"github.com/siftlabs/sift/pkg/retriever"
)

// resourceK is how many documents resource reads return. Higher than
// the tool default: resources skip synthesis, so callers filter
// themselves.
const resourceK = 10

// strategyProfile is one static catalog entry. Live strategy
// introspection needs fully wired dependencies, so the catalog is
// compiled in and must be kept in step with the retriever package.
type strategyProfile struct {
	name        string
	Description string `json:"description"`
	BestFor     string `json:"best_for"`
	Performance string `json:"performance"`
	Requires    string `json:"requires,omitempty"`
}

var strategyCatalog = []strategyProfile{
	{
		name:        retriever.StrategyKeyword,
		Description: "sparse BM25 scoring over exact terms; strong on identifiers and short factual queries",
		BestFor:     "factual questions, identifiers, exact phrases",
		Performance: "fastest; no external calls",
	},
	{
		name:        retriever.StrategyVector,
		Description: "dense embedding similarity search; strong on semantic and paraphrased queries",
		BestFor:     "semantic and paraphrased queries",
		Performance: "fast; one embedding call per query",
		Requires:    "embedding provider, vector store",
	},
	{
		name:        retriever.StrategyParentDoc,
		Description: "searches small child chunks, returns enclosing parent chunks for fuller context",
		BestFor:     "long documents where answers need surrounding context",
		Performance: "fast; one embedding call per query",
		Requires:    "embedding provider, vector store",
	},
	{
		name:        retriever.StrategyMultiQuery,
		Description: "LLM query expansion over a base strategy; recovers documents a single phrasing misses",
		BestFor:     "ambiguous queries with several plausible phrasings",
		Performance: "slower; one LLM call plus parallel sub-retrievals",
		Requires:    "LLM API key",
	},
	{
		name:        retriever.StrategyRerank,
		Description: "LLM reordering of an inflated candidate pool; trades latency for precision at the top",
		BestFor:     "precision-critical lookups where top ranks must be right",
		Performance: "slowest; one LLM call over the candidate pool",
		Requires:    "LLM API key",
	},
	{
		name:        retriever.StrategyEnsemble,
		Description: "reciprocal rank fusion over sub-strategies; robust across query types",
		BestFor:     "comprehensive research and mixed query workloads",
		Performance: "bounded by the slowest sub-strategy; members run in parallel",
	},
}

func (s *Server) registerResources(m *server.MCPServer) {
	m.AddResourceTemplate(mcp.NewResourceTemplate(
		"retriever://{strategy}/{query}",
		"Raw retrieval",
		mcp.WithTemplateDescription("Top documents for a URL-encoded query under one strategy, without synthesis or evaluation"),
		mcp.WithTemplateMIMEType("application/json"),
	), s.handleRetrieverResource)

	m.AddResource(mcp.NewResource(
		"strategies://info",
		"Strategy catalog",
		mcp.WithResourceDescription("Retrieval strategies with traits, requirements, and usage recommendations"),
		mcp.WithMIMEType("application/json"),
	), s.handleStrategiesResource)

	m.AddResourceTemplate(mcp.NewResourceTemplate(
		"collection://{name}/stats",
		"Collection statistics",
		mcp.WithTemplateDescription("Vector store and document store statistics for a collection"),
		mcp.WithTemplateMIMEType("application/json"),
	), s.handleCollectionResource)

	m.AddResource(mcp.NewResource(
		"cache://stats",
		"Cache statistics",
		mcp.WithResourceDescription("Cache hit rate, memory usage, and derived tuning recommendations"),
		mcp.WithMIMEType("application/json"),
	), s.handleCacheResource)

	m.AddResourceTemplate(mcp.NewResourceTemplate(
		"metrics://{strategy}",
		"Strategy metrics",
		mcp.WithTemplateDescription("Accumulated retrieval statistics for one strategy over the process lifetime"),
		mcp.WithTemplateMIMEType("application/json"),
	), s.handleMetricsResource)
}

// resourceDocument is one retrieved document in a resource payload.
type resourceDocument struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Rank     int                    `json:"rank"`
}

func (s *Server) handleRetrieverResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	strategy, query, err := splitRetrieverURI(uri)
	if err != nil {
		return nil, err
	}

	// Operational failures stay in-band as JSON so clients can show
	// them next to successful strategies.
	start := time.Now()
	payload, err := s.rawRetrieval(ctx, strategy, query)
	if err != nil {
		return resourceJSON(uri, map[string]interface{}{
			"error":             err.Error(),
			"query":             query,
			"strategy":          strategy,
			"retrieval_time_ms": time.Since(start).Milliseconds(),
			"resource_type":     "retrieval",
		})
	}
	return resourceJSON(uri, payload)
}

func (s *Server) rawRetrieval(ctx context.Context, strategy, query string) (map[string]interface{}, error) {
	pipeline, err := s.factory.Create(strategy)
	if err != nil {
		return nil, err
	}

	result, err := pipeline.Retrieve(ctx, query, resourceK)
	if err != nil {
		return nil, err
	}

	docs := make([]resourceDocument, len(result.Documents))
	for i, doc := range result.Documents {
		docs[i] = resourceDocument{Content: doc.Content, Metadata: doc.Metadata, Rank: i + 1}
	}

	return map[string]interface{}{
		"documents":         docs,
		"query":             query,
		"strategy":          strategy,
		"num_results":       len(docs),
		"retrieval_time_ms": result.LatencyMs,
		"cache_hit":         result.CacheHit,
		"resource_type":     "retrieval",
	}, nil
}

// splitRetrieverURI parses retriever://{strategy}/{query}. The query
// segment is URL-encoded and may itself contain encoded slashes.
func splitRetrieverURI(uri string) (strategy, query string, err error) {
	rest, ok := strings.CutPrefix(uri, "retriever://")
	if !ok {
		return "", "", fmt.Errorf("resource URI %q: want retriever://{strategy}/{query}", uri)
	}
	strategy, encoded, ok := strings.Cut(rest, "/")
	if !ok || strategy == "" || encoded == "" {
		return "", "", fmt.Errorf("resource URI %q: want retriever://{strategy}/{query}", uri)
	}
	query, err = url.PathUnescape(encoded)
	if err != nil {
		return "", "", fmt.Errorf("resource URI %q: decode query: %w", uri, err)
	}
	return strategy, query, nil
}

func (s *Server) handleStrategiesResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	names := make([]string, len(strategyCatalog))
	details := make(map[string]strategyProfile, len(strategyCatalog))
	for i, p := range strategyCatalog {
		names[i] = p.name
		details[p.name] = p
	}

	return resourceJSON(request.Params.URI, map[string]interface{}{
		"available_strategies": names,
		"strategy_details":     details,
		"recommendations": map[string]string{
			"factual_queries":        retriever.StrategyKeyword,
			"technical_queries":      retriever.StrategyKeyword,
			"conceptual_queries":     retriever.StrategyEnsemble,
			"general_queries":        retriever.StrategyVector,
			"comprehensive_research": retriever.StrategyEnsemble,
			"high_precision":         retriever.StrategyRerank,
			"broad_coverage":         retriever.StrategyMultiQuery,
			"best_context":           retriever.StrategyParentDoc,
		},
		"performance_characteristics": map[string][]string{
			"fastest":       {retriever.StrategyKeyword, retriever.StrategyVector},
			"most_accurate": {retriever.StrategyRerank, retriever.StrategyEnsemble},
			"best_context":  {retriever.StrategyParentDoc, retriever.StrategyMultiQuery},
			"balanced":      {retriever.StrategyEnsemble, retriever.StrategyVector},
		},
		"resource_type": "strategy_info",
	})
}

func (s *Server) handleCollectionResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	name, err := splitCollectionURI(uri)
	if err != nil {
		return nil, err
	}

	health := statusHealthy
	var vectorStats interface{}
	switch {
	case s.vectors == nil:
		vectorStats = map[string]interface{}{"error": "vector store not configured"}
		health = statusDegraded
	default:
		stats, err := s.vectors.Stats(ctx, name)
		if err != nil {
			vectorStats = map[string]interface{}{"error": err.Error()}
			health = statusDegraded
		} else {
			vectorStats = stats
		}
	}

	var docStats interface{}
	if s.docs == nil {
		docStats = map[string]interface{}{"error": "document store not configured"}
		health = statusDegraded
	} else {
		docStats = s.docs.Stats(ctx)
	}

	return resourceJSON(uri, map[string]interface{}{
		"collection_name": name,
		"vector_store":    vectorStats,
		"document_store":  docStats,
		"health_status":   health,
		"resource_type":   "collection_stats",
	})
}

func splitCollectionURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, "collection://")
	if !ok {
		return "", fmt.Errorf("resource URI %q: want collection://{name}/stats", uri)
	}
	name, ok := strings.CutSuffix(rest, "/stats")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("resource URI %q: want collection://{name}/stats", uri)
	}
	return name, nil
}

// cacheStatsDTO mirrors cache.Stats with wire names.
type cacheStatsDTO struct {
	Backend      string  `json:"backend"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Sets         int64   `json:"sets"`
	Deletes      int64   `json:"deletes"`
	Evictions    int64   `json:"evictions"`
	Expirations  int64   `json:"expirations"`
	Entries      int64   `json:"entries"`
	SizeBytes    int64   `json:"size_bytes"`
	MaxEntries   int64   `json:"max_entries,omitempty"`
	MaxSizeBytes int64   `json:"max_size_bytes,omitempty"`
	HitRate      float64 `json:"hit_rate_percentage"`
}

func (s *Server) handleCacheResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	if s.cache == nil {
		return resourceJSON(uri, map[string]interface{}{
			"error":         "cache not configured",
			"resource_type": "cache_stats",
		})
	}

	stats := s.cache.Stats()
	hitRate := stdmath.Round(stats.HitRate()*100) / 100

	return resourceJSON(uri, map[string]interface{}{
		"cache_stats": cacheStatsDTO{
			Backend:      s.cfg.Cache.Backend,
			Hits:         stats.Hits,
			Misses:       stats.Misses,
			Sets:         stats.Sets,
			Deletes:      stats.Deletes,
			Evictions:    stats.Evictions,
			Expirations:  stats.Expirations,
			Entries:      stats.Size,
			SizeBytes:    stats.SizeBytes,
			MaxEntries:   stats.MaxSize,
			MaxSizeBytes: stats.MaxSizeBytes,
			HitRate:      hitRate,
		},
		"performance_summary": map[string]interface{}{
			"hit_rate_percentage": hitRate,
			"total_operations":    stats.Hits + stats.Misses,
			"memory_usage":        humanBytes(stats.SizeBytes),
		},
		"recommendations": cacheRecommendations(stats.HitRate(), stats.SizeBytes),
		"resource_type":   "cache_stats",
	})
}

// cacheRecommendations derives tuning advice from the hit rate (as a
// percentage) and memory footprint.
func cacheRecommendations(hitRatePct float64, sizeBytes int64) []string {
	var recs []string
	if hitRatePct < 30 {
		recs = append(recs,
			"Consider increasing cache TTL for better hit rates",
			"Review query patterns for optimization opportunities")
	}
	if hitRatePct > 80 {
		recs = append(recs, "Excellent cache performance - consider expanding cache size")
	}
	if sizeBytes > 100*1024*1024 {
		recs = append(recs, "High memory usage - consider cache cleanup or size limits")
	}
	if len(recs) == 0 {
		recs = append(recs, "Cache performance is within normal parameters")
	}
	return recs
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(n)/float64(div), "KMGT"[exp])
}

func (s *Server) handleMetricsResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	name, ok := strings.CutPrefix(uri, "metrics://")
	if !ok || name == "" {
		return nil, fmt.Errorf("resource URI %q: want metrics://{strategy}", uri)
	}

	registered := false
	for _, strategy := range s.factory.Strategies() {
		if strategy == name {
			registered = true
			break
		}
	}
	if !registered {
		return resourceJSON(uri, map[string]interface{}{
			"error":                fmt.Sprintf("unknown strategy %q", name),
			"available_strategies": s.factory.Strategies(),
			"resource_type":        "strategy_metrics",
		})
	}

	if s.metrics == nil {
		return resourceJSON(uri, map[string]interface{}{
			"error":         "metrics collection is disabled",
			"strategy":      name,
			"resource_type": "strategy_metrics",
		})
	}

	snap, recorded := s.metrics.StrategySnapshot(name)
	if !recorded {
		snap = metrics.StrategySnapshot{Strategy: name}
	}
	return resourceJSON(uri, map[string]interface{}{
		"strategy":      name,
		"recorded":      recorded,
		"metrics":       snap,
		"resource_type": "strategy_metrics",
	})
}

// resourceJSON wraps a payload as a single JSON resource content.
func resourceJSON(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode resource %s: %w", uri, err)
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{
		URI:      uri,
		MIMEType: "application/json",
		Text:     string(data),
	}}, nil
}
