package retriever

import (
	"context"
	"crypto/sha256"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/siftlabs/sift/pkg/cache"
	"github.com/siftlabs/sift/pkg/config"
	"github.com/siftlabs/sift/pkg/docstore"
	"github.com/siftlabs/sift/pkg/llm"
	"github.com/siftlabs/sift/pkg/types"
	"github.com/siftlabs/sift/pkg/vectorstore"
)

// stubEmbedder returns fixed vectors for known texts and a
// deterministic hash-derived vector otherwise.
type stubEmbedder struct {
	dim     int
	vectors map[string][]float32
	err     error

	mu         sync.Mutex
	embedCalls int
	batchCalls int
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{dim: 4, vectors: make(map[string][]float32)}
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	s.embedCalls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.vectorFor(text), nil
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.batchCalls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = s.vectorFor(text)
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int    { return s.dim }
func (s *stubEmbedder) ModelName() string { return "stub-embedder" }

func (s *stubEmbedder) vectorFor(text string) []float32 {
	if v, ok := s.vectors[text]; ok {
		return v
	}
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, s.dim)
	for i := range vec {
		vec[i] = float32(sum[i]) / 255
	}
	return vec
}

// scriptedLLM replays queued replies and records the prompts it saw.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, req.Prompt)
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", nil
	}
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return reply, nil
}

func (s *scriptedLLM) ModelName() string { return "scripted-llm" }

func (s *scriptedLLM) promptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

// staticRetriever returns canned documents, optionally keyed by query.
type staticRetriever struct {
	name    string
	docs    []types.Document
	byQuery map[string][]types.Document
	err     error

	mu    sync.Mutex
	calls int
	lastK int
}

func (s *staticRetriever) Name() string { return s.name }

func (s *staticRetriever) Info() types.StrategyInfo {
	return types.StrategyInfo{Strategy: s.name}
}

func (s *staticRetriever) Retrieve(_ context.Context, query string, k int) ([]types.Document, error) {
	s.mu.Lock()
	s.calls++
	s.lastK = k
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	docs := s.docs
	if override, ok := s.byQuery[query]; ok {
		docs = override
	}
	if len(docs) > k {
		docs = docs[:k]
	}
	out := make([]types.Document, len(docs))
	for i, doc := range docs {
		out[i] = doc.Clone()
	}
	return out, nil
}

func (s *staticRetriever) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *staticRetriever) lastRequestedK() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastK
}

// recordingRecorder captures emitted retrieval metrics.
type recordingRecorder struct {
	mu      sync.Mutex
	records []types.RetrievalMetrics
}

func (r *recordingRecorder) RecordRetrieval(m types.RetrievalMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, m)
}

func (r *recordingRecorder) all() []types.RetrievalMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.RetrievalMetrics, len(r.records))
	copy(out, r.records)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestDeps builds a dependency bundle over in-memory adapters.
func newTestDeps(t *testing.T) *Dependencies {
	t.Helper()

	store := vectorstore.NewMemoryStore()
	memCache := cache.NewMemoryCache(cache.Config{
		MaxSize:         1000,
		DefaultTTL:      time.Minute,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(func() {
		_ = memCache.Close()
		_ = store.Close()
	})

	return &Dependencies{
		Docs:       docstore.New(),
		Vectors:    store,
		Embedder:   newStubEmbedder(),
		LLM:        &scriptedLLM{},
		Cache:      memCache,
		Logger:     discardLogger(),
		Collection: "test_documents",
		Retrieval: config.RetrievalConfig{
			DefaultK:        10,
			MaxK:            50,
			EnableCache:     true,
			NumQueries:      3,
			RerankInitialK:  20,
			EnsembleMembers: []string{StrategyKeyword, StrategyVector, StrategyRerank},
			ParallelFusion:  true,
		},
		CacheTTL: time.Minute,
	}
}

// docWithSource builds a document carrying a source metadata key.
func docWithSource(id, content, source string) types.Document {
	doc := types.NewDocument(id, content)
	doc.SetMeta(types.MetaSource, source)
	return doc
}

// metaNumber reads a numeric metadata value regardless of whether it
// went through a JSON round trip.
func metaNumber(t *testing.T, doc types.Document, key string) float64 {
	t.Helper()
	switch v := doc.Metadata[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	case float32:
		return float64(v)
	default:
		t.Fatalf("metadata %q: unexpected type %T", key, doc.Metadata[key])
		return 0
	}
}
