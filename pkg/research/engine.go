// Package research orchestrates the full question-answering workflow:
// strategy resolution, retrieval, answer synthesis, and optional
// reference-free quality scoring. It is the engine behind the deep
// research command surface; raw retrieval goes through the pipeline
// directly.
package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/siftlabs/sift/pkg/eval"
	"github.com/siftlabs/sift/pkg/llm"
	"github.com/siftlabs/sift/pkg/logging"
	"github.com/siftlabs/sift/pkg/retriever"
	"github.com/siftlabs/sift/pkg/telemetry"
	"github.com/siftlabs/sift/pkg/types"
)

// ErrEmptyQuestion rejects requests with no question text.
var ErrEmptyQuestion = errors.New("research: question must not be empty")

// Config holds engine defaults applied to requests that leave the
// corresponding field unset.
type Config struct {
	// DefaultStrategy answers requests that name no strategy.
	// Empty selects from query features at call time.
	DefaultStrategy string

	// DefaultK is how many documents to retrieve. Default 5.
	DefaultK int

	// SourceChars truncates source previews. Default 500.
	SourceChars int
}

// Request describes one research call.
type Request struct {
	// Question is the research question. Required.
	Question string

	// Strategy is a registered strategy name, or "auto" (also the
	// empty default) to select from query features.
	Strategy string

	// K caps retrieved documents. Zero applies the engine default.
	K int

	// IncludeSources attaches rank-ordered source previews.
	IncludeSources bool

	// Evaluate scores the answer with the reference-free rubric.
	// Requires a configured LLM; without one the scores stay nil.
	Evaluate bool
}

// Source is one retrieved document as cited in a research result.
type Source struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Rank     int                    `json:"rank"`
}

// Stats carries per-stage wall-clock latencies for one research call.
type Stats struct {
	RetrievalMs  int64 `json:"retrieval_ms"`
	SynthesisMs  int64 `json:"synthesis_ms"`
	EvaluationMs int64 `json:"evaluation_ms,omitempty"`
	TotalMs      int64 `json:"total_ms"`
}

// Result is a complete research response. The JSON shape is what the
// command surfaces return verbatim.
type Result struct {
	Answer                string             `json:"answer"`
	Question              string             `json:"question"`
	Strategy              string             `json:"strategy_used"`
	NumSources            int                `json:"num_sources"`
	ProcessingTimeSeconds float64            `json:"processing_time_seconds"`
	Sources               []Source           `json:"sources,omitempty"`
	Scores                *types.RAGASScores `json:"ragas_scores,omitempty"`

	// Synthesized reports whether the answer came from the LLM rather
	// than the concatenation fallback.
	Synthesized bool `json:"-"`

	// CacheHit reports whether retrieval was served from cache.
	CacheHit bool `json:"-"`

	// Stats breaks the total down by stage.
	Stats Stats `json:"-"`
}

// Engine runs research requests over a strategy factory. Stages run
// sequentially under the caller's context; a retrieval failure aborts
// the call, while synthesis and evaluation degrade instead of failing.
type Engine struct {
	factory   *retriever.Factory
	evaluator *eval.Evaluator
	client    llm.Client
	tracer    *telemetry.Provider
	logger    *slog.Logger
	cfg       Config
}

// New creates a research engine. The evaluator, client, and tracer may
// be nil: without an evaluator Evaluate requests return nil scores,
// without a client synthesis falls back to concatenation, and a nil
// tracer disables spans.
func New(factory *retriever.Factory, evaluator *eval.Evaluator, client llm.Client, tracer *telemetry.Provider, cfg Config, logger *slog.Logger) *Engine {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 5
	}
	if cfg.SourceChars <= 0 {
		cfg.SourceChars = 500
	}
	if tracer == nil {
		tracer, _ = telemetry.Init(context.Background(), telemetry.Config{})
	}
	if logger == nil {
		logger = logging.WithComponent("research")
	}
	return &Engine{
		factory:   factory,
		evaluator: evaluator,
		client:    client,
		tracer:    tracer,
		logger:    logger,
		cfg:       cfg,
	}
}

// Research answers one question end to end.
func (e *Engine) Research(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, ErrEmptyQuestion
	}

	total := time.Now()
	k := req.K
	if k <= 0 {
		k = e.cfg.DefaultK
	}

	pipeline, err := e.pipelineFor(req.Strategy, req.Question)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Question: req.Question,
		Strategy: pipeline.Name(),
	}

	// Stage 1: retrieve.
	retrieveStart := time.Now()
	rctx, span := e.tracer.StartRetrieve(ctx, pipeline.Name(), k)
	retrieval, err := pipeline.Retrieve(rctx, req.Question, k)
	if err != nil {
		telemetry.RecordError(span, err)
		span.End()
		return nil, fmt.Errorf("research: retrieval failed: %w", err)
	}
	telemetry.RecordRetrievalResult(span, len(retrieval.Documents), retrieval.CacheHit, time.Since(retrieveStart))
	span.End()

	result.Stats.RetrievalMs = time.Since(retrieveStart).Milliseconds()
	result.NumSources = len(retrieval.Documents)
	result.CacheHit = retrieval.CacheHit

	// Stage 2: synthesize.
	contexts := make([]string, len(retrieval.Documents))
	for i, doc := range retrieval.Documents {
		contexts[i] = doc.Content
	}

	synthStart := time.Now()
	sctx, span := e.tracer.StartLLM(ctx, "synthesis", modelName(e.client))
	answer, synthesized := eval.Synthesize(sctx, e.client, req.Question, contexts)
	span.End()

	result.Stats.SynthesisMs = time.Since(synthStart).Milliseconds()
	result.Answer = answer
	result.Synthesized = synthesized

	// Stage 3: score, when asked and possible.
	if req.Evaluate && e.evaluator != nil && len(contexts) > 0 {
		evalStart := time.Now()
		ectx, span := e.tracer.StartEvaluation(ctx, pipeline.Name(), 1)
		scores, err := e.evaluator.Evaluate(ectx, types.EvalSample{
			Question: req.Question,
			Answer:   answer,
			Contexts: contexts,
		})
		if err != nil {
			telemetry.RecordError(span, err)
			e.logger.Warn("answer scoring failed", "strategy", pipeline.Name(), "error", err)
		} else {
			result.Scores = &scores
		}
		span.End()
		result.Stats.EvaluationMs = time.Since(evalStart).Milliseconds()
	}

	if req.IncludeSources {
		result.Sources = e.sources(retrieval.Documents)
	}

	result.Stats.TotalMs = time.Since(total).Milliseconds()
	result.ProcessingTimeSeconds = time.Since(total).Seconds()

	e.logger.Info("research complete",
		"strategy", result.Strategy,
		"num_sources", result.NumSources,
		"synthesized", result.Synthesized,
		"cache_hit", result.CacheHit,
		"scored", result.Scores != nil,
		"total_ms", result.Stats.TotalMs)

	return result, nil
}

// pipelineFor resolves the strategy name, falling back to the engine
// default and then to query-feature selection.
func (e *Engine) pipelineFor(strategy, question string) (*retriever.Pipeline, error) {
	name := strings.TrimSpace(strategy)
	if name == "" {
		name = e.cfg.DefaultStrategy
	}
	if name == "" || name == retriever.StrategyAuto {
		return e.factory.CreateAuto(question)
	}
	return e.factory.Create(name)
}

// sources converts retrieved documents into preview form, truncating
// content so large parent chunks do not dominate the response.
func (e *Engine) sources(docs []types.Document) []Source {
	out := make([]Source, len(docs))
	for i, doc := range docs {
		content := doc.Content
		if len(content) > e.cfg.SourceChars {
			content = content[:e.cfg.SourceChars] + "..."
		}
		out[i] = Source{
			Content:  content,
			Metadata: doc.Metadata,
			Rank:     i + 1,
		}
	}
	return out
}

func modelName(client llm.Client) string {
	if client == nil {
		return "none"
	}
	return client.ModelName()
}
