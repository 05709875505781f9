package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/siftlabs/sift/pkg/dedup"
	"github.com/siftlabs/sift/pkg/eval"
	"github.com/siftlabs/sift/pkg/ingest"
	"github.com/siftlabs/sift/pkg/logging"
	"github.com/siftlabs/sift/pkg/retriever"
	"github.com/siftlabs/sift/pkg/sse"
	"github.com/siftlabs/sift/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Sift REST API server",
	Long: `Starts a JSON HTTP server exposing the retrieval fast path for
non-MCP clients: raw retrieval with any strategy, strategy
recommendations, and streaming evaluation and ingestion runs.

Example:
  sift serve --port 8080

The server exposes:
  POST /v1/retrieve       - Retrieve documents with any strategy
  GET  /v1/recommend      - Strategy recommendation for a query
  GET  /v1/strategies     - Strategy availability under current config
  POST /v1/eval/stream    - Evaluation run streamed as SSE
  POST /v1/ingest/stream  - JSONL ingestion streamed as SSE
  GET  /health            - Health check
  GET  /metrics           - Prometheus metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "HTTP server port")
	serveCmd.Flags().String("host", "0.0.0.0", "HTTP server host")
}

// restServer exposes the retrieval engine over plain JSON HTTP. It is
// the resource fast path without MCP framing: same pipeline, no answer
// synthesis.
type restServer struct {
	app *app
}

// evalStreamRequest is the JSON request body for /v1/eval/stream.
type evalStreamRequest struct {
	Strategy string `json:"strategy,omitempty"`
	Samples  int    `json:"samples,omitempty"`
}

// strategyStatus reports whether a strategy can be constructed with the
// current configuration.
type strategyStatus struct {
	Strategy    string                 `json:"strategy"`
	Available   bool                   `json:"available"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

func runServe(cmd *cobra.Command, args []string) error {
	// Bind at run time: mcp shares these keys with different defaults.
	_ = viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))

	ctx := context.Background()

	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	srv := &restServer{app: app}

	// Setup routes; data endpoints run through the metrics middleware.
	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		if app.metrics != nil {
			h = app.metrics.Middleware(pattern, h)
		}
		mux.HandleFunc(pattern, h)
	}
	route("/v1/retrieve", srv.handleRetrieve)
	route("/v1/recommend", srv.handleRecommend)
	route("/v1/strategies", srv.handleStrategies)
	route("/v1/eval/stream", srv.handleEvalStream)
	route("/v1/ingest/stream", srv.handleIngestStream)
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/", srv.handleRoot)
	if app.metrics != nil {
		mux.Handle(app.cfg.Metrics.Path, app.metrics.Handler())
	}

	// Create HTTP server. No WriteTimeout: the streaming endpoints hold
	// their responses open for the length of a full run.
	addr := fmt.Sprintf("%s:%d", app.cfg.Server.Host, app.cfg.Server.Port)
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: app.cfg.Server.ReadTimeout,
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		fmt.Fprintln(os.Stderr, "\nShutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Server shutdown error: %v\n", err)
		}
		close(done)
	}()

	// Start server
	fmt.Printf("Sift API server starting on %s\n", addr)
	fmt.Printf("  Vector backend: %s\n", app.cfg.Vector.Backend)
	fmt.Printf("  Embeddings: %v\n", app.embedder != nil)
	fmt.Printf("  LLM: %v\n", app.llm != nil)
	fmt.Println()
	fmt.Println("Endpoints:")
	fmt.Printf("  POST http://%s/v1/retrieve\n", addr)
	fmt.Printf("  GET  http://%s/v1/strategies\n", addr)
	fmt.Printf("  GET  http://%s/health\n", addr)
	fmt.Println()

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	fmt.Println("Server stopped")
	return nil
}

func (s *restServer) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.RetrievalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "'query' is required", http.StatusBadRequest)
		return
	}
	if req.Strategy == "" {
		req.Strategy = retriever.StrategyAuto
	}

	var pipe *retriever.Pipeline
	var err error
	if req.Strategy == retriever.StrategyAuto {
		pipe, err = s.app.factory.CreateAuto(req.Query)
	} else {
		pipe, err = s.app.factory.Create(req.Strategy)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := pipe.Retrieve(r.Context(), req.Query, req.K)
	if err != nil {
		http.Error(w, fmt.Sprintf("Retrieval failed: %v", err), http.StatusInternalServerError)
		return
	}

	resp := struct {
		*types.RetrievalResult
		NumResults int `json:"num_results"`
	}{result, len(result.Documents)}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *restServer) handleRecommend(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		http.Error(w, "'query' parameter is required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(retriever.Recommend(query))
}

// handleStrategies reports live availability: a strategy that cannot be
// constructed under the current configuration says so, unlike the
// static MCP catalog.
func (s *restServer) handleStrategies(w http.ResponseWriter, r *http.Request) {
	names := retriever.Names()
	statuses := make([]strategyStatus, 0, len(names))
	for _, name := range names {
		status := strategyStatus{Strategy: name}
		strategy, err := s.app.factory.Strategy(name)
		if err != nil {
			status.Error = err.Error()
		} else {
			info := strategy.Info()
			status.Available = true
			status.Description = info.Description
			status.Parameters = info.Parameters
		}
		statuses = append(statuses, status)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"strategies": statuses,
		"default":    retriever.StrategyAuto,
	})
}

func (s *restServer) handleEvalStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.app.harness == nil {
		http.Error(w, "evaluation requires an LLM API key (set ANTHROPIC_API_KEY or OPENAI_API_KEY)", http.StatusServiceUnavailable)
		return
	}

	var req evalStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if req.Strategy == "" {
		req.Strategy = retriever.StrategyEnsemble
	}
	if req.Samples <= 0 {
		req.Samples = 10
	}

	samples, err := s.app.evalSamples(req.Samples)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pipe, err := s.app.factory.Create(req.Strategy)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stream := sse.NewWriter(w)
	if stream == nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	stream.Heartbeat(r.Context(), 15*time.Second)

	timer := sse.NewStageTimer(sse.StageEvaluation)
	_ = stream.SendProgress(sse.StageEvaluation, 0)

	// Fresh harness per request: Progress is request-scoped state.
	harness := eval.NewHarness(s.app.evaluator, s.app.llm, nil)
	harness.Progress = func(done, total int, outcome eval.SampleOutcome) {
		stats := map[string]interface{}{
			"question":      outcome.Question,
			"overall_score": outcome.Scores.OverallScore,
			"elapsed_ms":    timer.ElapsedMs(),
		}
		if outcome.Err != "" {
			stats["error"] = outcome.Err
		}
		_ = stream.SendProgressWithStats(sse.StageEvaluation, float64(done)/float64(total), stats)
	}

	result := harness.Run(r.Context(), req.Strategy, eval.RetrieverFunc(
		func(ctx context.Context, query string, k int) ([]types.Document, error) {
			res, err := pipe.Retrieve(ctx, query, k)
			if err != nil {
				return nil, err
			}
			return res.Documents, nil
		}), samples)

	_ = stream.SendComplete(result, map[string]interface{}{
		"strategy":          result.Strategy,
		"num_samples":       result.NumSamples,
		"eval_time_seconds": result.EvalTimeSeconds,
	})
}

func (s *restServer) handleIngestStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.app.embedder == nil {
		http.Error(w, "ingestion requires an embedding API key (set OPENAI_API_KEY)", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	collection := q.Get("collection")
	if collection == "" {
		collection = s.app.cfg.Vector.Collection
	}
	cfg := ingest.DefaultConfig(collection)
	if bs, err := strconv.Atoi(q.Get("batch_size")); err == nil && bs > 0 {
		cfg.BatchSize = bs
	}
	cfg.Clean = q.Get("clean") == "true"

	deps := ingest.Dependencies{
		Docs:     s.app.docs,
		Store:    s.app.vectors,
		Embedder: s.app.embedder,
		Logger:   logging.WithComponent("ingest"),
	}
	if q.Get("dedup") == "true" {
		deps.Dedup = dedup.NewEngine(dedup.Config{Threshold: 0.05}, logging.WithComponent("dedup"))
	}
	if adder, err := s.app.factory.Strategy(retriever.StrategyParentDoc); err == nil {
		if chunks, ok := adder.(ingest.ChunkIndexer); ok {
			deps.Chunks = chunks
		}
	}

	pipe, err := ingest.New(deps, cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stream := sse.NewWriter(w)
	if stream == nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	stream.Heartbeat(r.Context(), 15*time.Second)

	progress := func(st ingest.Stats) {
		_ = stream.SendProgressWithStats(ingestStage(st), ingestFraction(st), ingestStatsPayload(st))
	}

	stats, err := pipe.IngestReader(r.Context(), r.Body, progress)
	if err != nil {
		_ = stream.SendError(ingestStage(*stats), err.Error())
		return
	}

	_ = stream.SendComplete(ingestStatsPayload(*stats), map[string]interface{}{
		"duration_seconds":   stats.Duration().Seconds(),
		"vectors_per_second": stats.VectorsPerSecond(),
	})
}

func (s *restServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "ok",
		"strategies":     len(retriever.Names()),
		"vector_backend": s.app.cfg.Vector.Backend,
		"cache_backend":  s.app.cfg.Cache.Backend,
		"llm_configured": s.app.llm != nil,
	})
}

func (s *restServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"name":    "Sift API",
		"version": version,
		"endpoints": map[string]string{
			"retrieve":      "POST /v1/retrieve",
			"recommend":     "GET /v1/recommend?query=...",
			"strategies":    "GET /v1/strategies",
			"eval_stream":   "POST /v1/eval/stream",
			"ingest_stream": "POST /v1/ingest/stream?collection=...",
			"health":        "GET /health",
		},
	})
}

// ingestStage maps a stats snapshot to the stage it is in: embedding
// until the first upsert batch lands.
func ingestStage(st ingest.Stats) sse.Stage {
	if st.BatchesProcessed > 0 || st.UpsertedVectors+st.FailedVectors > 0 {
		return sse.StageUpsert
	}
	return sse.StageEmbedding
}

// ingestFraction estimates run progress against the document count.
// Dedup can shrink the upsert set, so the value is clamped.
func ingestFraction(st ingest.Stats) float64 {
	if st.TotalDocuments == 0 {
		return 0
	}
	done := st.EmbeddedVectors
	if ingestStage(st) == sse.StageUpsert {
		done = st.UpsertedVectors + st.FailedVectors
	}
	frac := float64(done) / float64(st.TotalDocuments)
	if frac > 1 {
		frac = 1
	}
	return frac
}

func ingestStatsPayload(st ingest.Stats) map[string]interface{} {
	return map[string]interface{}{
		"documents":          st.TotalDocuments,
		"malformed_lines":    st.MalformedLines,
		"embedded_vectors":   st.EmbeddedVectors,
		"duplicates_removed": st.DuplicatesRemoved,
		"upserted_vectors":   st.UpsertedVectors,
		"failed_vectors":     st.FailedVectors,
		"batches_processed":  st.BatchesProcessed,
		"indexed_documents":  st.IndexedDocuments,
	}
}
