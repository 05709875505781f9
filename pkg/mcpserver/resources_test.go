package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/siftlabs/sift/pkg/cache"
	"github.com/siftlabs/sift/pkg/metrics"
	"github.com/siftlabs/sift/pkg/retriever"
	"github.com/siftlabs/sift/pkg/types"
)

func readRequest(uri string) mcp.ReadResourceRequest {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	return req
}

func decodeResource(t *testing.T, contents []mcp.ResourceContents) map[string]interface{} {
	t.Helper()
	if len(contents) != 1 {
		t.Fatalf("len(contents) = %d, want 1", len(contents))
	}

	var text string
	switch c := contents[0].(type) {
	case mcp.TextResourceContents:
		if c.MIMEType != "application/json" {
			t.Errorf("MIMEType = %q, want application/json", c.MIMEType)
		}
		text = c.Text
	case *mcp.TextResourceContents:
		text = c.Text
	default:
		t.Fatalf("contents type = %T, want text", contents[0])
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatalf("resource payload is not JSON: %v", err)
	}
	return payload
}

func TestSplitRetrieverURI(t *testing.T) {
	tests := []struct {
		name         string
		uri          string
		wantStrategy string
		wantQuery    string
		wantErr      bool
	}{
		{"plain", "retriever://keyword/indexing", "keyword", "indexing", false},
		{"encoded spaces", "retriever://vector/database%20indexing", "vector", "database indexing", false},
		{"encoded slash stays in query", "retriever://keyword/a%2Fb", "keyword", "a/b", false},
		{"wrong scheme", "collection://keyword/indexing", "", "", true},
		{"missing query", "retriever://keyword", "", "", true},
		{"empty strategy", "retriever:///indexing", "", "", true},
		{"bad escape", "retriever://keyword/%zz", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strategy, query, err := splitRetrieverURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("splitRetrieverURI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
			if strategy != tt.wantStrategy || query != tt.wantQuery {
				t.Errorf("splitRetrieverURI(%q) = (%q, %q), want (%q, %q)", tt.uri, strategy, query, tt.wantStrategy, tt.wantQuery)
			}
		})
	}
}

func TestRetrieverResource(t *testing.T) {
	s := newTestServer(t)

	contents, err := s.handleRetrieverResource(context.Background(), readRequest("retriever://keyword/database%20indexing"))
	if err != nil {
		t.Fatalf("handleRetrieverResource() error = %v", err)
	}

	payload := decodeResource(t, contents)
	if payload["strategy"] != retriever.StrategyKeyword {
		t.Errorf("strategy = %v, want keyword", payload["strategy"])
	}
	if payload["query"] != "database indexing" {
		t.Errorf("query = %v, want decoded query", payload["query"])
	}
	if payload["resource_type"] != "retrieval" {
		t.Errorf("resource_type = %v, want retrieval", payload["resource_type"])
	}

	docs, ok := payload["documents"].([]interface{})
	if !ok || len(docs) == 0 {
		t.Fatalf("documents = %v, want matches for indexed corpus", payload["documents"])
	}
	first, ok := docs[0].(map[string]interface{})
	if !ok {
		t.Fatalf("documents[0] = %T, want object", docs[0])
	}
	if rank, _ := first["rank"].(float64); rank != 1 {
		t.Errorf("documents[0].rank = %v, want 1", first["rank"])
	}
	if n, _ := payload["num_results"].(float64); int(n) != len(docs) {
		t.Errorf("num_results = %v, want %d", payload["num_results"], len(docs))
	}
}

func TestRetrieverResource_UnknownStrategyStaysInBand(t *testing.T) {
	s := newTestServer(t)

	contents, err := s.handleRetrieverResource(context.Background(), readRequest("retriever://quantum/indexing"))
	if err != nil {
		t.Fatalf("handleRetrieverResource() error = %v, want in-band error payload", err)
	}

	payload := decodeResource(t, contents)
	errText, _ := payload["error"].(string)
	if errText == "" {
		t.Fatalf("payload error missing: %v", payload)
	}
	if payload["strategy"] != "quantum" {
		t.Errorf("strategy = %v, want quantum", payload["strategy"])
	}
}

func TestRetrieverResource_MalformedURI(t *testing.T) {
	s := newTestServer(t)

	if _, err := s.handleRetrieverResource(context.Background(), readRequest("retriever://keyword")); err == nil {
		t.Fatal("handleRetrieverResource() error = nil for a malformed URI")
	}
}

func TestStrategiesResource(t *testing.T) {
	s := newTestServer(t)

	contents, err := s.handleStrategiesResource(context.Background(), readRequest("strategies://info"))
	if err != nil {
		t.Fatalf("handleStrategiesResource() error = %v", err)
	}

	payload := decodeResource(t, contents)

	names, ok := payload["available_strategies"].([]interface{})
	if !ok {
		t.Fatalf("available_strategies missing: %v", payload)
	}
	want := retriever.Names()
	if len(names) != len(want) {
		t.Fatalf("len(available_strategies) = %d, want %d", len(names), len(want))
	}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("available_strategies[%d] = %v, want %q", i, names[i], name)
		}
	}

	details, ok := payload["strategy_details"].(map[string]interface{})
	if !ok {
		t.Fatalf("strategy_details missing: %v", payload)
	}
	for _, name := range want {
		entry, ok := details[name].(map[string]interface{})
		if !ok {
			t.Errorf("strategy_details missing %q", name)
			continue
		}
		if entry["description"] == "" {
			t.Errorf("strategy_details[%q].description is empty", name)
		}
	}

	recs, ok := payload["recommendations"].(map[string]interface{})
	if !ok {
		t.Fatalf("recommendations missing: %v", payload)
	}
	if recs["factual_queries"] != retriever.StrategyKeyword {
		t.Errorf("factual_queries = %v, want keyword", recs["factual_queries"])
	}
	if recs["high_precision"] != retriever.StrategyRerank {
		t.Errorf("high_precision = %v, want rerank", recs["high_precision"])
	}

	perf, ok := payload["performance_characteristics"].(map[string]interface{})
	if !ok {
		t.Fatalf("performance_characteristics missing: %v", payload)
	}
	fastest, _ := perf["fastest"].([]interface{})
	if len(fastest) == 0 || fastest[0] != retriever.StrategyKeyword {
		t.Errorf("fastest = %v, want keyword first", perf["fastest"])
	}
}

func TestCollectionResource_DegradedWithoutVectors(t *testing.T) {
	s := newTestServer(t)

	contents, err := s.handleCollectionResource(context.Background(), readRequest("collection://sift_documents/stats"))
	if err != nil {
		t.Fatalf("handleCollectionResource() error = %v", err)
	}

	payload := decodeResource(t, contents)
	if payload["collection_name"] != "sift_documents" {
		t.Errorf("collection_name = %v, want sift_documents", payload["collection_name"])
	}
	if payload["health_status"] != statusDegraded {
		t.Errorf("health_status = %v, want degraded without a vector store", payload["health_status"])
	}

	docStats, ok := payload["document_store"].(map[string]interface{})
	if !ok {
		t.Fatalf("document_store missing: %v", payload)
	}
	if n, _ := docStats["document_count"].(float64); n != 3 {
		t.Errorf("document_count = %v, want 3", docStats["document_count"])
	}

	vecStats, ok := payload["vector_store"].(map[string]interface{})
	if !ok || vecStats["error"] == "" {
		t.Errorf("vector_store = %v, want error detail", payload["vector_store"])
	}
}

func TestCollectionResource_MalformedURI(t *testing.T) {
	s := newTestServer(t)

	for _, uri := range []string{"collection://stats", "collection://a/b/stats", "collection:///stats"} {
		if _, err := s.handleCollectionResource(context.Background(), readRequest(uri)); err == nil {
			t.Errorf("handleCollectionResource(%q) error = nil, want malformed URI error", uri)
		}
	}
}

func TestCacheResource_NotConfigured(t *testing.T) {
	s := newTestServer(t)

	contents, err := s.handleCacheResource(context.Background(), readRequest("cache://stats"))
	if err != nil {
		t.Fatalf("handleCacheResource() error = %v", err)
	}

	payload := decodeResource(t, contents)
	if errText, _ := payload["error"].(string); !strings.Contains(errText, "not configured") {
		t.Errorf("error = %v, want cache not configured", payload["error"])
	}
}

func TestCacheResource_ReportsStats(t *testing.T) {
	opts := newTestOptions(t)
	mem := cache.NewMemoryCache(cache.Config{DefaultTTL: time.Minute})
	opts.Cache = mem
	s := New(opts)

	ctx := context.Background()
	_ = mem.Set(ctx, "k1", []byte("v1"), 0)
	if _, err := mem.Get(ctx, "k1"); err != nil {
		t.Fatalf("Get(k1) error = %v", err)
	}
	_, _ = mem.Get(ctx, "absent")

	contents, err := s.handleCacheResource(ctx, readRequest("cache://stats"))
	if err != nil {
		t.Fatalf("handleCacheResource() error = %v", err)
	}

	payload := decodeResource(t, contents)
	stats, ok := payload["cache_stats"].(map[string]interface{})
	if !ok {
		t.Fatalf("cache_stats missing: %v", payload)
	}
	if hits, _ := stats["hits"].(float64); hits != 1 {
		t.Errorf("hits = %v, want 1", stats["hits"])
	}
	if misses, _ := stats["misses"].(float64); misses != 1 {
		t.Errorf("misses = %v, want 1", stats["misses"])
	}

	summary, ok := payload["performance_summary"].(map[string]interface{})
	if !ok {
		t.Fatalf("performance_summary missing: %v", payload)
	}
	if rate, _ := summary["hit_rate_percentage"].(float64); rate != 50 {
		t.Errorf("hit_rate_percentage = %v, want 50", summary["hit_rate_percentage"])
	}
	if ops, _ := summary["total_operations"].(float64); ops != 2 {
		t.Errorf("total_operations = %v, want 2", summary["total_operations"])
	}

	recs, ok := payload["recommendations"].([]interface{})
	if !ok || len(recs) == 0 {
		t.Errorf("recommendations = %v, want at least one", payload["recommendations"])
	}
}

func TestCacheRecommendations(t *testing.T) {
	tests := []struct {
		name    string
		hitRate float64
		size    int64
		want    []string
	}{
		{
			name:    "low hit rate",
			hitRate: 10,
			want: []string{
				"Consider increasing cache TTL for better hit rates",
				"Review query patterns for optimization opportunities",
			},
		},
		{
			name:    "excellent hit rate",
			hitRate: 92,
			want:    []string{"Excellent cache performance - consider expanding cache size"},
		},
		{
			name:    "high memory",
			hitRate: 50,
			size:    200 * 1024 * 1024,
			want:    []string{"High memory usage - consider cache cleanup or size limits"},
		},
		{
			name:    "nominal",
			hitRate: 50,
			want:    []string{"Cache performance is within normal parameters"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cacheRecommendations(tt.hitRate, tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("cacheRecommendations() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("recommendation[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestMetricsResource(t *testing.T) {
	opts := newTestOptions(t)
	m := metrics.New()
	opts.Metrics = m
	s := New(opts)

	m.RecordRetrieval(types.RetrievalMetrics{
		Strategy:   retriever.StrategyKeyword,
		Query:      "indexing",
		NumResults: 3,
		LatencyMs:  12,
	})

	contents, err := s.handleMetricsResource(context.Background(), readRequest("metrics://keyword"))
	if err != nil {
		t.Fatalf("handleMetricsResource() error = %v", err)
	}

	payload := decodeResource(t, contents)
	if payload["recorded"] != true {
		t.Errorf("recorded = %v, want true", payload["recorded"])
	}
	snap, ok := payload["metrics"].(map[string]interface{})
	if !ok {
		t.Fatalf("metrics missing: %v", payload)
	}
	if n, _ := snap["retrievals"].(float64); n != 1 {
		t.Errorf("retrievals = %v, want 1", snap["retrievals"])
	}
}

func TestMetricsResource_NeverRecorded(t *testing.T) {
	opts := newTestOptions(t)
	opts.Metrics = metrics.New()
	s := New(opts)

	contents, err := s.handleMetricsResource(context.Background(), readRequest("metrics://ensemble"))
	if err != nil {
		t.Fatalf("handleMetricsResource() error = %v", err)
	}

	payload := decodeResource(t, contents)
	if payload["recorded"] != false {
		t.Errorf("recorded = %v, want false", payload["recorded"])
	}
	snap, _ := payload["metrics"].(map[string]interface{})
	if snap["strategy"] != retriever.StrategyEnsemble {
		t.Errorf("metrics.strategy = %v, want ensemble", snap["strategy"])
	}
}

func TestMetricsResource_UnknownStrategy(t *testing.T) {
	s := newTestServer(t)

	contents, err := s.handleMetricsResource(context.Background(), readRequest("metrics://quantum"))
	if err != nil {
		t.Fatalf("handleMetricsResource() error = %v", err)
	}

	payload := decodeResource(t, contents)
	if errText, _ := payload["error"].(string); !strings.Contains(errText, "quantum") {
		t.Errorf("error = %v, want mention of the unknown strategy", payload["error"])
	}
	if _, ok := payload["available_strategies"]; !ok {
		t.Error("available_strategies missing from the error payload")
	}
}

func TestMetricsResource_Disabled(t *testing.T) {
	s := newTestServer(t)

	contents, err := s.handleMetricsResource(context.Background(), readRequest("metrics://keyword"))
	if err != nil {
		t.Fatalf("handleMetricsResource() error = %v", err)
	}

	payload := decodeResource(t, contents)
	if errText, _ := payload["error"].(string); !strings.Contains(errText, "disabled") {
		t.Errorf("error = %v, want metrics disabled", payload["error"])
	}
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512B"},
		{2048, "2.0KB"},
		{3 * 1024 * 1024, "3.0MB"},
		{5 * 1024 * 1024 * 1024, "5.0GB"},
	}
	for _, tt := range tests {
		if got := humanBytes(tt.n); got != tt.want {
			t.Errorf("humanBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
