package eval

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/siftlabs/sift/pkg/llm"
	"github.com/siftlabs/sift/pkg/logging"
	"github.com/siftlabs/sift/pkg/types"
)

const (
	// maxContexts bounds how many retrieved contexts each rubric sees.
	maxContexts = 5

	// contextChars truncates each context before it enters a prompt.
	contextChars = 500

	// fallbackScore substitutes for a metric whose LLM call or reply
	// parse failed, so one bad call never sinks the whole sample.
	fallbackScore = 0.5
)

// Evaluator judges (question, answer, contexts) tuples with four
// LLM-scored rubrics and reports each score in [0, 1].
type Evaluator struct {
	client      llm.Client
	temperature float64
	logger      *slog.Logger
}

// NewEvaluator creates an evaluator. Temperature at or below zero uses
// the 0.1 default the rubrics were tuned with.
func NewEvaluator(client llm.Client, temperature float64, logger *slog.Logger) *Evaluator {
	if temperature <= 0 {
		temperature = 0.1
	}
	if logger == nil {
		logger = logging.WithComponent("eval")
	}
	return &Evaluator{client: client, temperature: temperature, logger: logger}
}

// Evaluate scores one sample. Individual metric failures substitute 0.5
// and are logged; the returned error is non-nil only when every metric
// call failed, which is what marks a sample failed in batch runs.
func (e *Evaluator) Evaluate(ctx context.Context, sample types.EvalSample) (types.RAGASScores, error) {
	contexts := sample.Contexts

	reference := sample.GroundTruth
	if reference == "" {
		// Falls back to grading recall against the generated answer.
		// Self-referential, and known to flatter the metric; kept so
		// unlabeled samples still produce all four scores.
		reference = sample.Answer
	}

	var scores types.RAGASScores
	var callsFailed int

	scores.AnswerRelevancy, callsFailed = e.scoreMetric(ctx, "answer_relevancy",
		answerRelevancyPrompt(sample.Question, sample.Answer), callsFailed)
	scores.ContextPrecision, callsFailed = e.scoreMetric(ctx, "context_precision",
		contextPrecisionPrompt(sample.Question, contexts), callsFailed)
	scores.ContextRecall, callsFailed = e.scoreMetric(ctx, "context_recall",
		contextRecallPrompt(sample.Question, reference, contexts), callsFailed)
	scores.Faithfulness, callsFailed = e.scoreMetric(ctx, "faithfulness",
		faithfulnessPrompt(sample.Answer, contexts), callsFailed)

	scores.OverallScore = scores.Overall()

	if callsFailed == 4 {
		return scores, fmt.Errorf("eval: all metric calls failed for question %q", truncateRunes(sample.Question, 80))
	}
	return scores, nil
}

// scoreMetric runs one rubric prompt and parses the score. A transport
// failure increments the failure count; a parse failure does not, since
// the model did respond.
func (e *Evaluator) scoreMetric(ctx context.Context, metric, prompt string, failed int) (float64, int) {
	if e.client == nil {
		return fallbackScore, failed + 1
	}

	reply, err := e.client.Complete(ctx, llm.Request{
		Prompt:      prompt,
		Temperature: e.temperature,
	})
	if err != nil {
		e.logger.Warn("eval metric call failed", "metric", metric, "error", err)
		return fallbackScore, failed + 1
	}

	score, err := parseScore(reply)
	if err != nil {
		e.logger.Warn("eval_parse_failure", "metric", metric, "reply", truncateRunes(reply, 80))
		return fallbackScore, failed
	}
	return score, failed
}

// parseScore extracts the first whitespace-separated token of the reply,
// normalizes a comma decimal separator, and clamps to [0, 1].
func parseScore(reply string) (float64, error) {
	fields := strings.Fields(reply)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty reply")
	}

	token := strings.ReplaceAll(fields[0], ",", ".")
	score, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, fmt.Errorf("not a score: %q", fields[0])
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

// contextBlock renders the first maxContexts contexts, each truncated
// to contextChars, for inclusion in a rubric prompt.
func contextBlock(contexts []string) string {
	n := len(contexts)
	if n > maxContexts {
		n = maxContexts
	}

	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		parts = append(parts, fmt.Sprintf("Context %d: %s", i+1, truncateRunes(contexts[i], contextChars)))
	}
	return strings.Join(parts, "\n\n")
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func answerRelevancyPrompt(question, answer string) string {
	return fmt.Sprintf(`Evaluate how relevant this answer is to the question.

Question: %s

Answer: %s

Rate the relevancy on a scale of 0.0 to 1.0 where:
- 1.0 = Perfectly relevant, directly answers the question
- 0.8-0.9 = Highly relevant with minor omissions
- 0.6-0.7 = Somewhat relevant but missing key aspects
- <0.6 = Poor relevance or off-topic

Provide only a decimal number between 0.0 and 1.0.`, question, answer)
}

func contextPrecisionPrompt(question string, contexts []string) string {
	return fmt.Sprintf(`Evaluate the precision of retrieved contexts for answering this question.

Question: %s

Retrieved Contexts:
%s

Rate the precision on a scale of 0.0 to 1.0 where:
- 1.0 = All contexts are highly relevant
- 0.8-0.9 = Most contexts are relevant with minor irrelevant parts
- 0.6-0.7 = Mixed relevance
- <0.6 = Mostly irrelevant contexts

Consider what proportion of the retrieved information is actually useful for answering the question.

Provide only a decimal number between 0.0 and 1.0.`, question, contextBlock(contexts))
}

func contextRecallPrompt(question, reference string, contexts []string) string {
	return fmt.Sprintf(`Evaluate whether the retrieved contexts contain all necessary information.

Question: %s

Expected Information: %s

Retrieved Contexts:
%s

Rate the recall on a scale of 0.0 to 1.0 where:
- 1.0 = All necessary information is present in contexts
- 0.8-0.9 = Most necessary information is present
- 0.6-0.7 = Some key information is missing
- <0.6 = Major information gaps

Provide only a decimal number between 0.0 and 1.0.`, question, reference, contextBlock(contexts))
}

func faithfulnessPrompt(answer string, contexts []string) string {
	return fmt.Sprintf(`Evaluate the faithfulness of this answer to the provided contexts.

Answer: %s

Source Contexts:
%s

Rate the faithfulness on a scale of 0.0 to 1.0 where:
- 1.0 = All statements in answer are directly supported by contexts
- 0.8-0.9 = Most statements are supported with minor unsupported details
- 0.6-0.7 = Some unsupported statements or mild hallucinations
- <0.6 = Significant hallucinations or unsupported claims

Focus on whether the answer invents information not present in the contexts.

Provide only a decimal number between 0.0 and 1.0.`, answer, contextBlock(contexts))
}
