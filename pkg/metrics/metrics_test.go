package metrics

import (
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/siftlabs/sift/pkg/types"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}
	if m.registry == nil {
		t.Fatal("registry is nil")
	}
}

func TestRecordRetrieval(t *testing.T) {
	m := New()
	m.RecordRetrieval(types.RetrievalMetrics{
		Strategy: "vector", NumResults: 5, LatencyMs: 40, TokenCount: 120,
	})
	m.RecordRetrieval(types.RetrievalMetrics{
		Strategy: "vector", NumResults: 3, LatencyMs: 10, TokenCount: 80, CacheHit: true,
	})
	m.RecordRetrieval(types.RetrievalMetrics{
		Strategy: "vector", LatencyMs: 5, Err: "adapter_unavailable",
	})
	m.RecordRetrieval(types.RetrievalMetrics{
		Strategy: "keyword", NumResults: 2, LatencyMs: 2,
	})

	if val := counterValue(t, m.RetrievalsTotal, "strategy", "vector", "status", "ok"); val != 2 {
		t.Errorf("expected 2 ok vector retrievals, got %f", val)
	}
	if val := counterValue(t, m.RetrievalsTotal, "strategy", "vector", "status", "error"); val != 1 {
		t.Errorf("expected 1 error vector retrieval, got %f", val)
	}
	if val := counterValue(t, m.CacheEvents, "strategy", "vector", "outcome", "hit"); val != 1 {
		t.Errorf("expected 1 cache hit, got %f", val)
	}
	if val := counterValue(t, m.CacheEvents, "strategy", "vector", "outcome", "miss"); val != 2 {
		t.Errorf("expected 2 cache misses, got %f", val)
	}
	if val := counterValue(t, m.ContextTokens, "strategy", "vector"); val != 200 {
		t.Errorf("expected 200 context tokens, got %f", val)
	}
}

func TestStrategySnapshot(t *testing.T) {
	m := New()
	m.RecordRetrieval(types.RetrievalMetrics{
		Strategy: "ensemble", NumResults: 10, LatencyMs: 100, TokenCount: 400,
	})
	m.RecordRetrieval(types.RetrievalMetrics{
		Strategy: "ensemble", NumResults: 6, LatencyMs: 20, TokenCount: 200, CacheHit: true,
	})
	m.RecordRetrieval(types.RetrievalMetrics{
		Strategy: "ensemble", LatencyMs: 30, Err: "timeout",
	})

	snap, ok := m.StrategySnapshot("ensemble")
	if !ok {
		t.Fatal("StrategySnapshot(ensemble) not found")
	}
	if snap.Retrievals != 3 {
		t.Errorf("Retrievals = %d, want 3", snap.Retrievals)
	}
	if snap.Errors != 1 {
		t.Errorf("Errors = %d, want 1", snap.Errors)
	}
	if snap.CacheHits != 1 || snap.CacheMisses != 2 {
		t.Errorf("cache hits/misses = %d/%d, want 1/2", snap.CacheHits, snap.CacheMisses)
	}
	if math.Abs(snap.CacheHitRate-1.0/3.0) > 1e-9 {
		t.Errorf("CacheHitRate = %f, want 1/3", snap.CacheHitRate)
	}
	if math.Abs(snap.AvgLatencyMs-50) > 1e-9 {
		t.Errorf("AvgLatencyMs = %f, want 50", snap.AvgLatencyMs)
	}
	if math.Abs(snap.AvgResults-16.0/3.0) > 1e-9 {
		t.Errorf("AvgResults = %f, want 16/3", snap.AvgResults)
	}
	if snap.TokensServed != 600 {
		t.Errorf("TokensServed = %d, want 600", snap.TokensServed)
	}

	if _, ok := m.StrategySnapshot("never_used"); ok {
		t.Error("StrategySnapshot for unseen strategy should report not found")
	}
}

func TestSnapshot_SortedByStrategy(t *testing.T) {
	m := New()
	m.RecordRetrieval(types.RetrievalMetrics{Strategy: "vector", NumResults: 1})
	m.RecordRetrieval(types.RetrievalMetrics{Strategy: "ensemble", NumResults: 1})
	m.RecordRetrieval(types.RetrievalMetrics{Strategy: "keyword", NumResults: 1})

	snaps := m.Snapshot()
	if len(snaps) != 3 {
		t.Fatalf("Snapshot() returned %d entries, want 3", len(snaps))
	}
	want := []string{"ensemble", "keyword", "vector"}
	for i, s := range snaps {
		if s.Strategy != want[i] {
			t.Errorf("snapshot[%d].Strategy = %q, want %q", i, s.Strategy, want[i])
		}
	}
}

func TestRecordEvaluation(t *testing.T) {
	m := New()
	m.RecordEvaluation("faithfulness", 0.9)
	m.RecordEvaluation("faithfulness", 0.7)

	hist, err := m.EvalScores.GetMetricWith(prometheus.Labels{"metric": "faithfulness"})
	if err != nil {
		t.Fatalf("failed to get histogram: %v", err)
	}
	var metric dto.Metric
	if err := hist.(prometheus.Histogram).Write(&metric); err != nil {
		t.Fatalf("failed to read histogram: %v", err)
	}
	if metric.GetHistogram().GetSampleCount() != 2 {
		t.Errorf("expected 2 samples, got %d", metric.GetHistogram().GetSampleCount())
	}
	if math.Abs(metric.GetHistogram().GetSampleSum()-1.6) > 1e-9 {
		t.Errorf("expected sample sum 1.6, got %f", metric.GetHistogram().GetSampleSum())
	}
}

func TestRecordRequest(t *testing.T) {
	m := New()
	m.RecordRequest("/v1/retrieve", 200, 50*time.Millisecond)
	m.RecordRequest("/v1/retrieve", 200, 100*time.Millisecond)
	m.RecordRequest("/v1/retrieve", 400, 5*time.Millisecond)

	val := counterValue(t, m.RequestsTotal, "endpoint", "/v1/retrieve", "status", "200")
	if val != 2 {
		t.Errorf("expected 2 requests with status 200, got %f", val)
	}

	val = counterValue(t, m.RequestsTotal, "endpoint", "/v1/retrieve", "status", "400")
	if val != 1 {
		t.Errorf("expected 1 request with status 400, got %f", val)
	}
}

func TestMiddleware(t *testing.T) {
	m := New()

	handler := m.Middleware("/v1/retrieve", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	val := counterValue(t, m.RequestsTotal, "endpoint", "/v1/retrieve", "status", "200")
	if val != 1 {
		t.Errorf("expected 1 request recorded, got %f", val)
	}
}

func TestMiddleware_ErrorStatus(t *testing.T) {
	m := New()

	handler := m.Middleware("/v1/retrieve", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	val := counterValue(t, m.RequestsTotal, "endpoint", "/v1/retrieve", "status", "400")
	if val != 1 {
		t.Errorf("expected 1 request with status 400, got %f", val)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordRetrieval(types.RetrievalMetrics{Strategy: "vector", NumResults: 2, LatencyMs: 10})
	m.RecordRequest("/v1/retrieve", 200, 10*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "sift_retrievals_total") {
		t.Error("metrics output missing sift_retrievals_total")
	}
	if !strings.Contains(body, "sift_retrieval_duration_seconds") {
		t.Error("metrics output missing sift_retrieval_duration_seconds")
	}
	if !strings.Contains(body, "sift_requests_total") {
		t.Error("metrics output missing sift_requests_total")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("metrics output missing go runtime metrics")
	}
}

func TestActiveRequests(t *testing.T) {
	m := New()

	started := make(chan struct{})
	release := make(chan struct{})

	handler := m.Middleware("/v1/retrieve", func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}()

	<-started

	var metric dto.Metric
	if err := m.ActiveRequests.Write(&metric); err != nil {
		t.Fatalf("failed to read gauge: %v", err)
	}
	if metric.GetGauge().GetValue() != 1 {
		t.Errorf("expected 1 active request, got %f", metric.GetGauge().GetValue())
	}

	close(release)
}

// counterValue extracts the value of a counter with the given label pairs.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labelPairs ...string) float64 {
	t.Helper()
	labels := prometheus.Labels{}
	for i := 0; i < len(labelPairs); i += 2 {
		labels[labelPairs[i]] = labelPairs[i+1]
	}
	counter, err := cv.GetMetricWith(labels)
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}
