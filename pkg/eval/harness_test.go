package eval

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/siftlabs/sift/pkg/llm"
	"github.com/siftlabs/sift/pkg/types"
)

const markSynthesis = "Answer this question based on the retrieved documents"

// harnessReplies answers synthesis prompts with answer and every rubric
// prompt with score.
func harnessReplies(answer, score string) func(llm.Request) (string, error) {
	return func(req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, markSynthesis) {
			return answer, nil
		}
		return score, nil
	}
}

type fakeRetriever struct {
	docs   []types.Document
	failOn string

	queries []string
	ks      []int
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, k int) ([]types.Document, error) {
	f.queries = append(f.queries, query)
	f.ks = append(f.ks, k)
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return nil, errors.New("backend unavailable")
	}
	return f.docs, nil
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestHarness_Run(t *testing.T) {
	client := &funcLLM{fn: harnessReplies("A synthesized answer.", "0.8")}
	harness := NewHarness(NewEvaluator(client, 0, nil), client, nil)

	retriever := &fakeRetriever{docs: []types.Document{
		{ID: "d1", Content: "alpha doc content"},
		{ID: "d2", Content: "beta doc content"},
	}}
	samples := []types.EvalSample{
		{Question: "How does fusion rank documents?", GroundTruth: "gt reference", Domain: "rag"},
		{Question: "What is a parent chunk?", Domain: "rag"},
	}

	result := harness.Run(context.Background(), "vector", retriever, samples)

	if result.Strategy != "vector" {
		t.Errorf("Strategy = %q, want vector", result.Strategy)
	}
	if result.NumSamples != 2 || result.Succeeded != 2 || result.Failed != 0 {
		t.Fatalf("counts = %d/%d/%d, want 2/2/0", result.NumSamples, result.Succeeded, result.Failed)
	}
	if !near(result.Aggregate.OverallScore, 0.8) {
		t.Errorf("Aggregate.OverallScore = %v, want 0.8", result.Aggregate.OverallScore)
	}
	if !near(result.Aggregate.Faithfulness, 0.8) {
		t.Errorf("Aggregate.Faithfulness = %v, want 0.8", result.Aggregate.Faithfulness)
	}

	if len(result.Samples) != 2 {
		t.Fatalf("len(Samples) = %d, want 2", len(result.Samples))
	}
	first := result.Samples[0]
	if first.Answer != "A synthesized answer." {
		t.Errorf("Answer = %q", first.Answer)
	}
	if first.NumContexts != 2 {
		t.Errorf("NumContexts = %d, want 2", first.NumContexts)
	}
	if first.Err != "" {
		t.Errorf("Err = %q, want empty", first.Err)
	}

	if len(retriever.ks) != 2 || retriever.ks[0] != 5 {
		t.Errorf("retriever ks = %v, want default k of 5 per sample", retriever.ks)
	}

	// Contexts flow from documents into the rubric prompts, and the
	// ground truth passes through to recall.
	var sawContent, sawTruth bool
	for _, p := range client.prompts() {
		if strings.Contains(p, markPrecision) && strings.Contains(p, "alpha doc content") {
			sawContent = true
		}
		if strings.Contains(p, "Expected Information: gt reference") {
			sawTruth = true
		}
	}
	if !sawContent {
		t.Error("retrieved document content never reached the precision rubric")
	}
	if !sawTruth {
		t.Error("ground truth never reached the recall rubric")
	}
}

func TestHarness_Run_RetrievalFailure(t *testing.T) {
	client := &funcLLM{fn: harnessReplies("fine", "0.6")}
	harness := NewHarness(NewEvaluator(client, 0, nil), client, nil)

	retriever := &fakeRetriever{
		docs:   []types.Document{{ID: "d1", Content: "some context"}},
		failOn: "broken",
	}
	samples := []types.EvalSample{
		{Question: "a working question"},
		{Question: "a broken question"},
	}

	result := harness.Run(context.Background(), "keyword", retriever, samples)

	if result.Succeeded != 1 || result.Failed != 1 {
		t.Fatalf("Succeeded/Failed = %d/%d, want 1/1", result.Succeeded, result.Failed)
	}
	if got := result.Samples[1].Err; !strings.HasPrefix(got, "retrieval failed:") {
		t.Errorf("failed sample Err = %q", got)
	}
	if !near(result.Aggregate.OverallScore, 0.6) {
		t.Errorf("aggregate should cover succeeded samples only, got %v", result.Aggregate.OverallScore)
	}
}

func TestHarness_Run_SynthesisFallback(t *testing.T) {
	client := &funcLLM{fn: func(req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, markSynthesis) {
			return "", errors.New("synthesis down")
		}
		return "0.9", nil
	}}
	harness := NewHarness(NewEvaluator(client, 0, nil), client, nil)

	retriever := &fakeRetriever{docs: []types.Document{{ID: "d1", Content: "cached facts"}}}
	result := harness.Run(context.Background(), "rerank", retriever, []types.EvalSample{
		{Question: "does it degrade?"},
	})

	if result.Succeeded != 1 {
		t.Fatalf("synthesis fallback should not fail the sample, got %+v", result)
	}
	answer := result.Samples[0].Answer
	if !strings.HasPrefix(answer, "Based on the retrieved information: ") {
		t.Errorf("Answer = %q, want concatenation fallback", answer)
	}
	if !strings.Contains(answer, "cached facts") {
		t.Errorf("fallback answer should carry the contexts, got %q", answer)
	}
}

func TestHarness_Run_CustomK(t *testing.T) {
	client := &funcLLM{fn: harnessReplies("ok", "0.5")}
	harness := NewHarness(NewEvaluator(client, 0, nil), client, nil)
	harness.K = 2

	retriever := &fakeRetriever{docs: []types.Document{{ID: "d1", Content: "x"}}}
	harness.Run(context.Background(), "vector", retriever, []types.EvalSample{{Question: "q"}})

	if len(retriever.ks) != 1 || retriever.ks[0] != 2 {
		t.Errorf("retriever ks = %v, want [2]", retriever.ks)
	}
}

func TestHarness_Run_Progress(t *testing.T) {
	client := &funcLLM{fn: harnessReplies("ok", "0.7")}
	harness := NewHarness(NewEvaluator(client, 0, nil), client, nil)

	type step struct {
		done, total int
		question    string
		failed      bool
	}
	var steps []step
	harness.Progress = func(done, total int, outcome SampleOutcome) {
		steps = append(steps, step{done, total, outcome.Question, outcome.Err != ""})
	}

	retriever := &fakeRetriever{
		docs:   []types.Document{{ID: "d1", Content: "x"}},
		failOn: "broken",
	}
	harness.Run(context.Background(), "vector", retriever, []types.EvalSample{
		{Question: "first question"},
		{Question: "a broken question"},
		{Question: "third question"},
	})

	if len(steps) != 3 {
		t.Fatalf("len(steps) = %d, want one callback per sample", len(steps))
	}
	for i, s := range steps {
		if s.done != i+1 || s.total != 3 {
			t.Errorf("steps[%d] = %d/%d, want %d/3", i, s.done, s.total, i+1)
		}
	}
	if steps[0].question != "first question" || steps[2].question != "third question" {
		t.Errorf("callbacks out of run order: %+v", steps)
	}
	if !steps[1].failed {
		t.Error("retrieval failure should still report its sample")
	}
	if steps[0].failed || steps[2].failed {
		t.Error("healthy samples reported as failed")
	}
}

func TestEvaluateBatch(t *testing.T) {
	client := &funcLLM{fn: func(req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, "poison") {
			return "", errors.New("provider rejected input")
		}
		return "0.6", nil
	}}
	ev := NewEvaluator(client, 0, nil)

	samples := []types.EvalSample{
		{Question: "good one", Answer: "fine", Contexts: []string{"ctx"}},
		{Question: "poison question", Answer: "poison answer", Contexts: []string{"poison context"}},
		{Question: "good two", Answer: "fine", Contexts: []string{"ctx"}},
	}

	result := ev.EvaluateBatch(context.Background(), samples)

	if result.NumSamples != 3 || result.Succeeded != 2 || result.Failed != 1 {
		t.Fatalf("counts = %d/%d/%d, want 3/2/1", result.NumSamples, result.Succeeded, result.Failed)
	}
	if len(result.PerSample) != 3 {
		t.Fatalf("len(PerSample) = %d, want 3", len(result.PerSample))
	}
	if result.PerSample[1].Err == "" {
		t.Error("poisoned sample should carry its error")
	}
	if result.PerSample[0].Err != "" {
		t.Errorf("healthy sample Err = %q", result.PerSample[0].Err)
	}
	if !near(result.Aggregate.OverallScore, 0.6) {
		t.Errorf("Aggregate.OverallScore = %v, want 0.6 over succeeded samples", result.Aggregate.OverallScore)
	}
}

func TestSynthesize_EmptyContexts(t *testing.T) {
	answer, ok := Synthesize(context.Background(), &funcLLM{}, "anything?", nil)
	if ok {
		t.Error("ok = true, want false for empty contexts")
	}
	if answer != "No relevant information found." {
		t.Errorf("answer = %q", answer)
	}
}

func TestSynthesize_CapsAtThreeDocuments(t *testing.T) {
	client := &funcLLM{fn: func(llm.Request) (string, error) {
		return "  a tidy answer  ", nil
	}}
	contexts := []string{strings.Repeat("x", 600), "two", "three", "four"}

	answer, ok := Synthesize(context.Background(), client, "q?", contexts)
	if !ok {
		t.Fatal("ok = false, want true")
	}
	if answer != "a tidy answer" {
		t.Errorf("answer = %q, want trimmed reply", answer)
	}

	prompt := client.prompts()[0]
	if !strings.Contains(prompt, "Document 3: three") {
		t.Error("prompt should include the third document")
	}
	if strings.Contains(prompt, "four") {
		t.Error("prompt should cap at three documents")
	}
	if strings.Contains(prompt, strings.Repeat("x", 501)) {
		t.Error("documents should be truncated to 500 chars")
	}
}

func TestSynthesize_NilClient(t *testing.T) {
	answer, ok := Synthesize(context.Background(), nil, "q?", []string{"alpha", "beta"})
	if ok {
		t.Error("ok = true, want false without a client")
	}
	if answer != "Based on the retrieved information: alpha beta" {
		t.Errorf("answer = %q", answer)
	}
}

func TestSynthesize_BlankReplyFallsBack(t *testing.T) {
	client := &funcLLM{fn: func(llm.Request) (string, error) {
		return "   ", nil
	}}

	answer, ok := Synthesize(context.Background(), client, "q?", []string{"alpha"})
	if ok {
		t.Error("ok = true, want false for a blank reply")
	}
	if !strings.HasPrefix(answer, "Based on the retrieved information: ") {
		t.Errorf("answer = %q", answer)
	}
}
