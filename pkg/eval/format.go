package eval

import (
	"fmt"
	"strings"

	"github.com/siftlabs/sift/pkg/types"
)

// FormatSummary renders a run as a short human-readable report: sample
// counts and aggregate scores. The MCP evaluate_rag tool and the eval
// CLI command share it.
func FormatSummary(run RunResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "RAG Evaluation: %s strategy\n", run.Strategy)
	fmt.Fprintf(&b, "Samples: %d evaluated, %d succeeded, %d failed\n",
		run.NumSamples, run.Succeeded, run.Failed)
	fmt.Fprintf(&b, "Duration: %.1fs\n", run.EvalTimeSeconds)

	if run.Succeeded == 0 {
		b.WriteString("\nNo samples succeeded; no aggregate scores.\n")
		return b.String()
	}

	b.WriteString("\nAggregate scores:\n")
	writeScores(&b, "  ", run.Aggregate)
	return b.String()
}

// FormatDetailed renders the summary followed by one block per sample
// with its scores, answer preview, and any error.
func FormatDetailed(run RunResult) string {
	var b strings.Builder
	b.WriteString(FormatSummary(run))

	for i, sample := range run.Samples {
		fmt.Fprintf(&b, "\nSample %d: %s\n", i+1, sample.Question)
		if sample.Domain != "" {
			fmt.Fprintf(&b, "  Domain: %s\n", sample.Domain)
		}
		if sample.Err != "" {
			fmt.Fprintf(&b, "  Error: %s\n", sample.Err)
			continue
		}
		fmt.Fprintf(&b, "  Contexts: %d\n", sample.NumContexts)
		if sample.Answer != "" {
			fmt.Fprintf(&b, "  Answer: %s\n", preview(sample.Answer, 200))
		}
		writeScores(&b, "  ", sample.Scores)
	}
	return b.String()
}

func writeScores(b *strings.Builder, indent string, s types.RAGASScores) {
	fmt.Fprintf(b, "%sAnswer Relevancy:  %.3f\n", indent, s.AnswerRelevancy)
	fmt.Fprintf(b, "%sContext Precision: %.3f\n", indent, s.ContextPrecision)
	fmt.Fprintf(b, "%sContext Recall:    %.3f\n", indent, s.ContextRecall)
	fmt.Fprintf(b, "%sFaithfulness:      %.3f\n", indent, s.Faithfulness)
	fmt.Fprintf(b, "%sOverall:           %.3f\n", indent, s.OverallScore)
}

func preview(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return truncateRunes(s, n)
}
