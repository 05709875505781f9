package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/siftlabs/sift/pkg/eval"
	"github.com/siftlabs/sift/pkg/research"
	"github.com/siftlabs/sift/pkg/retriever"
	"github.com/siftlabs/sift/pkg/types"
)

// compareTopN caps how many documents each strategy contributes to a
// comparison entry, and comparePreviewChars how much of each document
// is shown.
const (
	compareTopN         = 3
	comparePreviewChars = 200
)

func (s *Server) registerTools(m *server.MCPServer) {
	m.AddTool(mcp.NewTool("research_deep",
		mcp.WithDescription("Run the full research workflow: retrieve documents, synthesize an answer, and score it with reference-free quality metrics. Use the retriever:// resource instead when raw documents are enough."),
		mcp.WithString("question", mcp.Required(),
			mcp.Description("Research question to answer")),
		mcp.WithString("strategy",
			mcp.Description("Retrieval strategy: keyword, vector, parent_doc, multi_query, rerank, ensemble, or auto to pick from query shape (default auto)")),
		mcp.WithNumber("max_results",
			mcp.Description("Number of documents to retrieve (default 5)")),
		mcp.WithBoolean("include_sources",
			mcp.Description("Include truncated source documents in the result (default true)")),
		mcp.WithBoolean("enable_evaluation",
			mcp.Description("Score the answer with reference-free quality metrics; needs an LLM key (default true)")),
	), s.handleResearchDeep)

	m.AddTool(mcp.NewTool("evaluate_rag",
		mcp.WithDescription("Evaluate a retrieval strategy against the golden dataset: retrieve, synthesize, and score every sample, then aggregate. Requires an LLM API key."),
		mcp.WithString("strategy",
			mcp.Description("Strategy to evaluate (default ensemble)")),
		mcp.WithNumber("num_test_cases",
			mcp.Description("How many dataset samples to evaluate (default 10)")),
		mcp.WithString("output_format",
			mcp.Description("Result shape: summary, detailed, or json (default summary)")),
	), s.handleEvaluateRAG)

	m.AddTool(mcp.NewTool("strategy_compare",
		mcp.WithDescription("Run several retrieval strategies on the same question in parallel and compare speed, result counts, and top documents."),
		mcp.WithString("question", mcp.Required(),
			mcp.Description("Question to run through every strategy")),
		mcp.WithArray("strategies",
			mcp.Description("Strategies to compare (default: all registered)")),
		mcp.WithNumber("max_results",
			mcp.Description("Documents to request per strategy (default 5)")),
	), s.handleStrategyCompare)
}

func (s *Server) handleResearchDeep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	req := research.Request{
		Question:       question,
		Strategy:       request.GetString("strategy", retriever.StrategyAuto),
		K:              int(request.GetFloat("max_results", 0)),
		IncludeSources: request.GetBool("include_sources", true),
		Evaluate:       request.GetBool("enable_evaluation", true),
	}

	result, err := s.research.Research(ctx, req)
	if err != nil {
		return toolError(err, map[string]interface{}{
			"question":           question,
			"strategy_attempted": req.Strategy,
		}), nil
	}
	return toolJSON(result)
}

// evalSummary is the compact evaluate_rag shape.
type evalSummary struct {
	Strategy        string             `json:"strategy"`
	TestCases       int                `json:"test_cases"`
	Succeeded       int                `json:"num_successful"`
	Failed          int                `json:"num_failed"`
	OverallScore    float64            `json:"overall_score"`
	Metrics         map[string]float64 `json:"metrics"`
	EvalTimeSeconds float64            `json:"evaluation_time_seconds"`
}

// evalDetailed adds per-sample outcomes to the summary.
type evalDetailed struct {
	Strategy        string               `json:"strategy"`
	Aggregate       types.RAGASScores    `json:"aggregate_scores"`
	Samples         []eval.SampleOutcome `json:"detailed_results"`
	EvalTimeSeconds float64              `json:"evaluation_time_seconds"`
}

func (s *Server) handleEvaluateRAG(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	strategy := request.GetString("strategy", retriever.StrategyEnsemble)
	numCases := int(request.GetFloat("num_test_cases", 10))
	format := request.GetString("output_format", "summary")

	errFields := map[string]interface{}{"strategy": strategy}

	if s.harness == nil || !s.cfg.LLMConfigured() {
		return toolError(errors.New("evaluation requires an LLM API key (set ANTHROPIC_API_KEY or OPENAI_API_KEY)"), errFields), nil
	}

	samples, err := s.loadSamples(numCases)
	if err != nil {
		return toolError(err, errFields), nil
	}
	if len(samples) == 0 {
		return toolError(errors.New("evaluation dataset is empty"), errFields), nil
	}

	pipeline, err := s.factory.Create(strategy)
	if err != nil {
		return toolError(err, errFields), nil
	}

	run := s.harness.Run(ctx, strategy, eval.RetrieverFunc(func(ctx context.Context, query string, k int) ([]types.Document, error) {
		result, err := pipeline.Retrieve(ctx, query, k)
		if err != nil {
			return nil, err
		}
		return result.Documents, nil
	}), samples)

	if s.metrics != nil && run.Succeeded > 0 {
		s.metrics.RecordEvaluation("answer_relevancy", run.Aggregate.AnswerRelevancy)
		s.metrics.RecordEvaluation("context_precision", run.Aggregate.ContextPrecision)
		s.metrics.RecordEvaluation("context_recall", run.Aggregate.ContextRecall)
		s.metrics.RecordEvaluation("faithfulness", run.Aggregate.Faithfulness)
		s.metrics.RecordEvaluation("overall_score", run.Aggregate.OverallScore)
	}

	switch format {
	case "summary":
		return toolJSON(evalSummary{
			Strategy:     run.Strategy,
			TestCases:    run.NumSamples,
			Succeeded:    run.Succeeded,
			Failed:       run.Failed,
			OverallScore: run.Aggregate.OverallScore,
			Metrics: map[string]float64{
				"answer_relevancy":  run.Aggregate.AnswerRelevancy,
				"context_precision": run.Aggregate.ContextPrecision,
				"context_recall":    run.Aggregate.ContextRecall,
				"faithfulness":      run.Aggregate.Faithfulness,
			},
			EvalTimeSeconds: run.EvalTimeSeconds,
		})
	case "detailed":
		return toolJSON(evalDetailed{
			Strategy:        run.Strategy,
			Aggregate:       run.Aggregate,
			Samples:         run.Samples,
			EvalTimeSeconds: run.EvalTimeSeconds,
		})
	case "json":
		return toolJSON(run)
	default:
		return toolError(fmt.Errorf("unknown output_format %q: want summary, detailed, or json", format), errFields), nil
	}
}

// comparePreview is one document in a comparison entry, truncated for
// side-by-side reading.
type comparePreview struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Rank     int                    `json:"rank"`
}

// compareEntry is one strategy's outcome in a comparison.
type compareEntry struct {
	Strategy   string           `json:"strategy"`
	Success    bool             `json:"success"`
	NumResults int              `json:"num_results,omitempty"`
	LatencyMs  int64            `json:"latency_ms"`
	CacheHit   bool             `json:"cache_hit,omitempty"`
	Documents  []comparePreview `json:"documents,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// compareRankings orders the successful strategies by latency and by
// result count.
type compareRankings struct {
	Fastest     []string `json:"fastest"`
	MostResults []string `json:"most_results"`
}

// compareInsights summarizes the winners of a comparison.
type compareInsights struct {
	FastestStrategy   string `json:"fastest_strategy"`
	FastestTimeMs     int64  `json:"fastest_time_ms"`
	MostComprehensive string `json:"most_comprehensive"`
	MostResults       int    `json:"most_results"`
}

// compareRecommendation is the strategy advice derived from query shape
// and the observed comparison results.
type compareRecommendation struct {
	Primary      string           `json:"primary"`
	Reasoning    string           `json:"reasoning"`
	Alternatives []string         `json:"alternatives"`
	QueryType    string           `json:"query_type"`
	Insights     *compareInsights `json:"performance_insights,omitempty"`
}

// compareReport is the full strategy_compare result.
type compareReport struct {
	Question             string                `json:"question"`
	StrategiesCompared   []string              `json:"strategies_compared"`
	SuccessfulStrategies int                   `json:"successful_strategies"`
	FailedStrategies     int                   `json:"failed_strategies"`
	StrategyResults      []compareEntry        `json:"strategy_results"`
	PerformanceRankings  compareRankings       `json:"performance_rankings"`
	Recommendations      compareRecommendation `json:"recommendations"`
	TotalTimeSeconds     float64               `json:"total_comparison_time_seconds"`
}

func (s *Server) handleStrategyCompare(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	k := int(request.GetFloat("max_results", 5))
	if k <= 0 {
		k = 5
	}
	names := stringSlice(request.GetArguments()["strategies"])
	if len(names) == 0 {
		names = retriever.Names()
	}

	start := time.Now()
	entries := make([]compareEntry, len(names))

	// Unknown strategies and timeouts become failed entries; the
	// comparison itself never errors.
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			entries[i] = s.compareOne(gctx, name, question, k)
			return nil
		})
	}
	_ = g.Wait()

	report := compareReport{
		Question:            question,
		StrategiesCompared:  names,
		StrategyResults:     entries,
		PerformanceRankings: rankEntries(entries),
		TotalTimeSeconds:    time.Since(start).Seconds(),
	}
	for _, entry := range entries {
		if entry.Success {
			report.SuccessfulStrategies++
		} else {
			report.FailedStrategies++
		}
	}
	report.Recommendations = s.recommendFromComparison(question, entries)

	s.logger.Info("strategy comparison finished",
		"strategies", len(names),
		"succeeded", report.SuccessfulStrategies,
		"failed", report.FailedStrategies,
		"total_ms", time.Since(start).Milliseconds())

	return toolJSON(report)
}

// compareOne runs a single strategy under the comparison timeout and
// folds any failure into the entry.
func (s *Server) compareOne(ctx context.Context, strategy, question string, k int) compareEntry {
	timeout := s.cfg.Retrieval.CompareTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entry := compareEntry{Strategy: strategy}
	start := time.Now()

	pipeline, err := s.factory.Create(strategy)
	if err != nil {
		entry.LatencyMs = time.Since(start).Milliseconds()
		entry.Error = err.Error()
		return entry
	}

	result, err := pipeline.Retrieve(ctx, question, k)
	entry.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		entry.Error = err.Error()
		return entry
	}

	entry.Success = true
	entry.NumResults = len(result.Documents)
	entry.CacheHit = result.CacheHit
	for i, doc := range result.Documents {
		if i == compareTopN {
			break
		}
		entry.Documents = append(entry.Documents, comparePreview{
			Content:  preview(doc.Content, comparePreviewChars),
			Metadata: doc.Metadata,
			Rank:     i + 1,
		})
	}
	return entry
}

func rankEntries(entries []compareEntry) compareRankings {
	successful := make([]compareEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Success {
			successful = append(successful, entry)
		}
	}

	byLatency := make([]compareEntry, len(successful))
	copy(byLatency, successful)
	sort.SliceStable(byLatency, func(i, j int) bool {
		return byLatency[i].LatencyMs < byLatency[j].LatencyMs
	})

	byResults := make([]compareEntry, len(successful))
	copy(byResults, successful)
	sort.SliceStable(byResults, func(i, j int) bool {
		return byResults[i].NumResults > byResults[j].NumResults
	})

	rankings := compareRankings{
		Fastest:     make([]string, len(byLatency)),
		MostResults: make([]string, len(byResults)),
	}
	for i := range byLatency {
		rankings.Fastest[i] = byLatency[i].Strategy
	}
	for i := range byResults {
		rankings.MostResults[i] = byResults[i].Strategy
	}
	return rankings
}

// recommendFromComparison starts from the query-shape recommendation
// and corrects it against what actually succeeded.
func (s *Server) recommendFromComparison(question string, entries []compareEntry) compareRecommendation {
	rec := retriever.Recommend(question)

	var successful []compareEntry
	for _, entry := range entries {
		if entry.Success {
			successful = append(successful, entry)
		}
	}

	if len(successful) == 0 {
		return compareRecommendation{
			Primary:      retriever.StrategyEnsemble,
			Reasoning:    "all strategies failed; ensemble gives the broadest fallback coverage",
			Alternatives: []string{retriever.StrategyVector, retriever.StrategyKeyword},
			QueryType:    rec.QueryAnalysis.Type,
		}
	}

	fastest := successful[0]
	most := successful[0]
	for _, entry := range successful[1:] {
		if entry.LatencyMs < fastest.LatencyMs {
			fastest = entry
		}
		if entry.NumResults > most.NumResults {
			most = entry
		}
	}

	primary := rec.Primary
	reasoning := rec.Reasoning
	succeeded := false
	for _, entry := range successful {
		if entry.Strategy == primary {
			succeeded = true
			break
		}
	}
	if !succeeded {
		reasoning = fmt.Sprintf("%s did not succeed here; %s was the fastest strategy that did", primary, fastest.Strategy)
		primary = fastest.Strategy
	}

	alternatives := make([]string, 0, 3)
	for _, entry := range successful {
		if entry.Strategy == primary || len(alternatives) == 3 {
			continue
		}
		alternatives = append(alternatives, entry.Strategy)
	}

	return compareRecommendation{
		Primary:      primary,
		Reasoning:    reasoning,
		Alternatives: alternatives,
		QueryType:    rec.QueryAnalysis.Type,
		Insights: &compareInsights{
			FastestStrategy:   fastest.Strategy,
			FastestTimeMs:     fastest.LatencyMs,
			MostComprehensive: most.Strategy,
			MostResults:       most.NumResults,
		},
	}
}

// stringSlice coerces a JSON array argument into its string elements.
func stringSlice(raw interface{}) []string {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// preview truncates content to limit runes for side-by-side display.
func preview(content string, limit int) string {
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "..."
}

// toolJSON marshals a tool result as indented JSON text.
func toolJSON(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// toolError wraps a failure and its context as a JSON error payload so
// MCP clients get structured detail, not just a string.
func toolError(err error, fields map[string]interface{}) *mcp.CallToolResult {
	payload := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["error"] = err.Error()

	data, mErr := json.Marshal(payload)
	if mErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(data))
}
