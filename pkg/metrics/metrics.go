// Package metrics provides Prometheus instrumentation for Sift.
//
// Alongside the Prometheus collectors it keeps a small in-memory
// aggregate per strategy so the MCP metrics resource can serve JSON
// snapshots without scraping its own /metrics endpoint.
package metrics

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/siftlabs/sift/pkg/types"
)

// Metrics holds all Prometheus metric collectors for Sift.
type Metrics struct {
	RetrievalsTotal   *prometheus.CounterVec
	RetrievalDuration *prometheus.HistogramVec
	ResultsReturned   *prometheus.HistogramVec
	CacheEvents       *prometheus.CounterVec
	ContextTokens     *prometheus.CounterVec
	EvalScores        *prometheus.HistogramVec
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ActiveRequests    prometheus.Gauge

	registry *prometheus.Registry

	mu          sync.RWMutex
	perStrategy map[string]*strategyTotals
}

// strategyTotals accumulates raw counts; derived rates are computed at
// snapshot time.
type strategyTotals struct {
	retrievals     int64
	errors         int64
	cacheHits      int64
	cacheMisses    int64
	totalResults   int64
	totalLatencyMs int64
	totalTokens    int64
}

// StrategySnapshot is the JSON view of one strategy's accumulated
// retrieval statistics.
type StrategySnapshot struct {
	Strategy     string  `json:"strategy"`
	Retrievals   int64   `json:"retrievals"`
	Errors       int64   `json:"errors"`
	CacheHits    int64   `json:"cache_hits"`
	CacheMisses  int64   `json:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	AvgResults   float64 `json:"avg_results"`
	TokensServed int64   `json:"tokens_served"`
}

// New creates and registers all Sift metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	// Include default Go and process collectors
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		RetrievalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sift_retrievals_total",
				Help: "Total retrieval calls by strategy and status.",
			},
			[]string{"strategy", "status"},
		),
		RetrievalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sift_retrieval_duration_seconds",
				Help:    "Retrieval latency distribution per strategy.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"strategy"},
		),
		ResultsReturned: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sift_retrieval_results",
				Help:    "Documents returned per retrieval call.",
				Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 50},
			},
			[]string{"strategy"},
		),
		CacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sift_cache_events_total",
				Help: "Result cache hits and misses by strategy.",
			},
			[]string{"strategy", "outcome"},
		),
		ContextTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sift_context_tokens_total",
				Help: "Approximate tokens in returned contexts by strategy.",
			},
			[]string{"strategy"},
		),
		EvalScores: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sift_eval_score",
				Help:    "RAGAS-style evaluation scores by metric, in [0,1].",
				Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
			[]string{"metric"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sift_requests_total",
				Help: "Total HTTP requests by endpoint and status code.",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sift_request_duration_seconds",
				Help:    "HTTP request latency distribution.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"endpoint"},
		),
		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sift_active_requests",
				Help: "Number of requests currently being processed.",
			},
		),
		registry:    reg,
		perStrategy: make(map[string]*strategyTotals),
	}

	reg.MustRegister(
		m.RetrievalsTotal,
		m.RetrievalDuration,
		m.ResultsReturned,
		m.CacheEvents,
		m.ContextTokens,
		m.EvalScores,
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
	)

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRetrieval records one completed retrieval call. It satisfies
// the retriever pipeline's recorder contract and never blocks.
func (m *Metrics) RecordRetrieval(r types.RetrievalMetrics) {
	status := "ok"
	if r.Err != "" {
		status = "error"
	}
	outcome := "miss"
	if r.CacheHit {
		outcome = "hit"
	}

	m.RetrievalsTotal.WithLabelValues(r.Strategy, status).Inc()
	m.RetrievalDuration.WithLabelValues(r.Strategy).Observe(float64(r.LatencyMs) / 1000)
	m.ResultsReturned.WithLabelValues(r.Strategy).Observe(float64(r.NumResults))
	m.CacheEvents.WithLabelValues(r.Strategy, outcome).Inc()
	if r.TokenCount > 0 {
		m.ContextTokens.WithLabelValues(r.Strategy).Add(float64(r.TokenCount))
	}

	m.mu.Lock()
	totals, ok := m.perStrategy[r.Strategy]
	if !ok {
		totals = &strategyTotals{}
		m.perStrategy[r.Strategy] = totals
	}
	totals.retrievals++
	if r.Err != "" {
		totals.errors++
	}
	if r.CacheHit {
		totals.cacheHits++
	} else {
		totals.cacheMisses++
	}
	totals.totalResults += int64(r.NumResults)
	totals.totalLatencyMs += r.LatencyMs
	totals.totalTokens += int64(r.TokenCount)
	m.mu.Unlock()
}

// RecordEvaluation records one RAGAS-style metric score.
func (m *Metrics) RecordEvaluation(metric string, score float64) {
	m.EvalScores.WithLabelValues(metric).Observe(score)
}

// RecordRequest records a completed HTTP request's metrics.
func (m *Metrics) RecordRequest(endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// StrategySnapshot returns the accumulated statistics for one strategy.
// The second return is false if the strategy has never been recorded.
func (m *Metrics) StrategySnapshot(strategy string) (StrategySnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals, ok := m.perStrategy[strategy]
	if !ok {
		return StrategySnapshot{Strategy: strategy}, false
	}
	return snapshotOf(strategy, totals), true
}

// Snapshot returns statistics for every strategy seen so far, sorted by
// strategy name.
func (m *Metrics) Snapshot() []StrategySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]StrategySnapshot, 0, len(m.perStrategy))
	for name, totals := range m.perStrategy {
		out = append(out, snapshotOf(name, totals))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strategy < out[j].Strategy })
	return out
}

func snapshotOf(name string, t *strategyTotals) StrategySnapshot {
	s := StrategySnapshot{
		Strategy:     name,
		Retrievals:   t.retrievals,
		Errors:       t.errors,
		CacheHits:    t.cacheHits,
		CacheMisses:  t.cacheMisses,
		TokensServed: t.totalTokens,
	}
	if t.retrievals > 0 {
		s.AvgLatencyMs = float64(t.totalLatencyMs) / float64(t.retrievals)
		s.AvgResults = float64(t.totalResults) / float64(t.retrievals)
	}
	if events := t.cacheHits + t.cacheMisses; events > 0 {
		s.CacheHitRate = float64(t.cacheHits) / float64(events)
	}
	return s
}

// Middleware returns an HTTP middleware that instruments requests.
func (m *Metrics) Middleware(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.ActiveRequests.Inc()
		defer m.ActiveRequests.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rw, r)

		m.RecordRequest(endpoint, rw.statusCode, time.Since(start))
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer. SSE endpoints sit behind the
// middleware and need the flusher to reach them through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
