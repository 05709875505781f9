package eval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/siftlabs/sift/pkg/llm"
	"github.com/siftlabs/sift/pkg/logging"
	"github.com/siftlabs/sift/pkg/types"
)

// ContextRetriever is the slice of a retrieval strategy the harness
// needs: a query in, documents out.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]types.Document, error)
}

// RetrieverFunc adapts a plain function to ContextRetriever, the way
// http.HandlerFunc adapts handlers.
type RetrieverFunc func(ctx context.Context, query string, k int) ([]types.Document, error)

// Retrieve calls f.
func (f RetrieverFunc) Retrieve(ctx context.Context, query string, k int) ([]types.Document, error) {
	return f(ctx, query, k)
}

// SampleScores carries one sample's scores in a batch result.
type SampleScores struct {
	Question string            `json:"question"`
	Domain   string            `json:"domain,omitempty"`
	Scores   types.RAGASScores `json:"scores"`
	Err      string            `json:"error,omitempty"`
}

// BatchResult aggregates scores across a batch of pre-built samples.
type BatchResult struct {
	NumSamples int               `json:"num_samples"`
	Succeeded  int               `json:"num_successful"`
	Failed     int               `json:"num_failed"`
	Aggregate  types.RAGASScores `json:"aggregate_scores"`
	PerSample  []SampleScores    `json:"per_sample_scores"`
}

// EvaluateBatch scores every sample and reports unweighted aggregate
// means over the samples that succeeded.
func (e *Evaluator) EvaluateBatch(ctx context.Context, samples []types.EvalSample) BatchResult {
	result := BatchResult{
		NumSamples: len(samples),
		PerSample:  make([]SampleScores, 0, len(samples)),
	}

	var sum types.RAGASScores
	for _, sample := range samples {
		entry := SampleScores{Question: sample.Question, Domain: sample.Domain}

		scores, err := e.Evaluate(ctx, sample)
		entry.Scores = scores
		if err != nil {
			entry.Err = err.Error()
			result.Failed++
		} else {
			result.Succeeded++
			sum.AnswerRelevancy += scores.AnswerRelevancy
			sum.ContextPrecision += scores.ContextPrecision
			sum.ContextRecall += scores.ContextRecall
			sum.Faithfulness += scores.Faithfulness
			sum.OverallScore += scores.OverallScore
		}

		result.PerSample = append(result.PerSample, entry)
	}

	if result.Succeeded > 0 {
		n := float64(result.Succeeded)
		result.Aggregate = types.RAGASScores{
			AnswerRelevancy:  sum.AnswerRelevancy / n,
			ContextPrecision: sum.ContextPrecision / n,
			ContextRecall:    sum.ContextRecall / n,
			Faithfulness:     sum.Faithfulness / n,
			OverallScore:     sum.OverallScore / n,
		}
	}
	return result
}

// SampleOutcome is one golden-dataset question after the full
// retrieve, synthesize, evaluate pass.
type SampleOutcome struct {
	Question    string            `json:"question"`
	Domain      string            `json:"domain,omitempty"`
	Answer      string            `json:"answer,omitempty"`
	NumContexts int               `json:"num_contexts"`
	Scores      types.RAGASScores `json:"scores"`
	Err         string            `json:"error,omitempty"`
}

// RunResult is a full evaluation run of one strategy over a dataset.
type RunResult struct {
	Strategy        string            `json:"strategy"`
	NumSamples      int               `json:"num_samples"`
	Succeeded       int               `json:"num_successful"`
	Failed          int               `json:"num_failed"`
	Aggregate       types.RAGASScores `json:"aggregate_scores"`
	Samples         []SampleOutcome   `json:"samples"`
	EvalTimeSeconds float64           `json:"evaluation_time_seconds"`
}

// Harness drives a retrieval strategy over a golden dataset: retrieve
// contexts for each question, synthesize an answer, score the result.
type Harness struct {
	evaluator *Evaluator
	client    llm.Client
	logger    *slog.Logger

	// K is how many contexts each question retrieves. Default 5.
	K int

	// Progress, when set, observes each finished sample in run order.
	// It is called from the running goroutine, so it must not block.
	Progress func(done, total int, outcome SampleOutcome)
}

// NewHarness creates a harness sharing the evaluator's LLM for answer
// synthesis.
func NewHarness(evaluator *Evaluator, client llm.Client, logger *slog.Logger) *Harness {
	if logger == nil {
		logger = logging.WithComponent("eval")
	}
	return &Harness{evaluator: evaluator, client: client, logger: logger, K: 5}
}

// Run evaluates one strategy against the given samples. Retrieval
// failures mark the sample failed without aborting the run.
func (h *Harness) Run(ctx context.Context, strategy string, r ContextRetriever, samples []types.EvalSample) RunResult {
	start := time.Now()
	k := h.K
	if k <= 0 {
		k = 5
	}

	result := RunResult{
		Strategy:   strategy,
		NumSamples: len(samples),
		Samples:    make([]SampleOutcome, 0, len(samples)),
	}

	var sum types.RAGASScores
	for i, sample := range samples {
		h.logger.Info("evaluating sample",
			"strategy", strategy,
			"sample", i+1,
			"total", len(samples),
			"question", truncateRunes(sample.Question, 50))

		outcome := SampleOutcome{Question: sample.Question, Domain: sample.Domain}

		docs, err := r.Retrieve(ctx, sample.Question, k)
		if err != nil {
			outcome.Err = fmt.Sprintf("retrieval failed: %v", err)
			result.Failed++
			result.Samples = append(result.Samples, outcome)
			if h.Progress != nil {
				h.Progress(i+1, len(samples), outcome)
			}
			continue
		}

		contexts := make([]string, len(docs))
		for j, doc := range docs {
			contexts[j] = doc.Content
		}
		outcome.NumContexts = len(contexts)

		answer, _ := Synthesize(ctx, h.client, sample.Question, contexts)
		outcome.Answer = answer

		scores, err := h.evaluator.Evaluate(ctx, types.EvalSample{
			Question:    sample.Question,
			Answer:      answer,
			Contexts:    contexts,
			GroundTruth: sample.GroundTruth,
		})
		outcome.Scores = scores
		if err != nil {
			outcome.Err = err.Error()
			result.Failed++
		} else {
			result.Succeeded++
			sum.AnswerRelevancy += scores.AnswerRelevancy
			sum.ContextPrecision += scores.ContextPrecision
			sum.ContextRecall += scores.ContextRecall
			sum.Faithfulness += scores.Faithfulness
			sum.OverallScore += scores.OverallScore
		}

		result.Samples = append(result.Samples, outcome)
		if h.Progress != nil {
			h.Progress(i+1, len(samples), outcome)
		}
	}

	if result.Succeeded > 0 {
		n := float64(result.Succeeded)
		result.Aggregate = types.RAGASScores{
			AnswerRelevancy:  sum.AnswerRelevancy / n,
			ContextPrecision: sum.ContextPrecision / n,
			ContextRecall:    sum.ContextRecall / n,
			Faithfulness:     sum.Faithfulness / n,
			OverallScore:     sum.OverallScore / n,
		}
	}
	result.EvalTimeSeconds = time.Since(start).Seconds()

	h.logger.Info("evaluation run complete",
		"strategy", strategy,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"overall_score", result.Aggregate.OverallScore,
		"duration_seconds", result.EvalTimeSeconds)

	return result
}

// Synthesize answers a question from retrieved contexts with a single
// LLM call over the top three, each truncated to 500 chars. When the
// client is missing or the call fails it degrades to a plain
// concatenation so callers always get an answer. The second return
// reports whether the LLM produced the answer.
func Synthesize(ctx context.Context, client llm.Client, question string, contexts []string) (string, bool) {
	if len(contexts) == 0 {
		return "No relevant information found.", false
	}

	n := len(contexts)
	if n > 3 {
		n = 3
	}
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		parts = append(parts, fmt.Sprintf("Document %d: %s", i+1, truncateRunes(contexts[i], contextChars)))
	}

	if client != nil {
		prompt := fmt.Sprintf(`Answer this question based on the retrieved documents:

Question: %s

Retrieved Documents:
%s

Provide a clear, concise answer based only on the information in the documents.`,
			question, strings.Join(parts, "\n\n"))

		answer, err := client.Complete(ctx, llm.Request{Prompt: prompt})
		if err == nil && strings.TrimSpace(answer) != "" {
			return strings.TrimSpace(answer), true
		}
	}

	var b strings.Builder
	b.WriteString("Based on the retrieved information: ")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(truncateRunes(contexts[i], contextChars))
	}
	return b.String(), false
}
