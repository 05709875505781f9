package ingest

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/siftlabs/sift/pkg/dedup"
	"github.com/siftlabs/sift/pkg/types"
	"github.com/siftlabs/sift/pkg/vectorstore"
)

// memDocs records documents and assigns sequential IDs like the real
// document store.
type memDocs struct {
	mu      sync.Mutex
	docs    []types.Document
	counter int
}

func (m *memDocs) Add(_ context.Context, docs ...types.Document) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			m.counter++
			doc.ID = fmt.Sprintf("doc_%d", m.counter)
		}
		m.docs = append(m.docs, doc)
		ids[i] = doc.ID
	}
	return ids
}

// stubEmbedder returns pinned vectors for known texts and a
// deterministic hash-derived vector otherwise.
type stubEmbedder struct {
	dim     int
	vectors map[string][]float32
	err     error

	mu         sync.Mutex
	batchCalls int
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{dim: 4, vectors: make(map[string][]float32)}
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
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

// failingStore rejects every upsert but behaves normally otherwise.
type failingStore struct {
	*vectorstore.MemoryStore
}

func (f *failingStore) Upsert(_ context.Context, _ string, _ []types.Vector) error {
	return errors.New("backend write refused")
}

// recordingIndexer captures the document batches it receives.
type recordingIndexer struct {
	mu      sync.Mutex
	batches [][]types.Document
	err     error
}

func (r *recordingIndexer) AddDocuments(_ context.Context, docs []types.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	batch := make([]types.Document, len(docs))
	copy(batch, docs)
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recordingIndexer) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func newTestPipeline(t *testing.T, cfg Config, deps Dependencies) *Pipeline {
	t.Helper()
	if deps.Docs == nil {
		deps.Docs = &memDocs{}
	}
	if deps.Store == nil {
		deps.Store = vectorstore.NewMemoryStore()
	}
	if deps.Embedder == nil {
		deps.Embedder = newStubEmbedder()
	}
	p, err := New(deps, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestNew_Validation(t *testing.T) {
	docs := &memDocs{}
	store := vectorstore.NewMemoryStore()
	embedder := newStubEmbedder()

	tests := []struct {
		name string
		deps Dependencies
		cfg  Config
	}{
		{"missing docstore", Dependencies{Store: store, Embedder: embedder}, Config{Collection: "c"}},
		{"missing vector store", Dependencies{Docs: docs, Embedder: embedder}, Config{Collection: "c"}},
		{"missing embedder", Dependencies{Docs: docs, Store: store}, Config{Collection: "c"}},
		{"missing collection", Dependencies{Docs: docs, Store: store, Embedder: embedder}, Config{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps, tt.cfg); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestPipeline_IngestReader(t *testing.T) {
	docs := &memDocs{}
	store := vectorstore.NewMemoryStore()
	indexer := &recordingIndexer{}
	p := newTestPipeline(t, DefaultConfig("test_docs"), Dependencies{
		Docs: docs, Store: store, Chunks: indexer,
	})

	input := strings.Join([]string{
		`{"id": "ml-intro", "content": "Machine learning basics.", "metadata": {"category": "ml"}}`,
		``,
		`{"content": "Vector databases store embeddings."}`,
		`{not json`,
		`{"id": "empty-one", "metadata": {"category": "broken"}}`,
		`{"content": "RAG combines retrieval and generation."}`,
	}, "\n")

	stats, err := p.IngestReader(context.Background(), strings.NewReader(input), nil)
	if err != nil {
		t.Fatalf("IngestReader() error = %v", err)
	}

	if stats.TotalDocuments != 3 {
		t.Errorf("TotalDocuments = %d, want 3", stats.TotalDocuments)
	}
	if stats.MalformedLines != 2 {
		t.Errorf("MalformedLines = %d, want 2 (bad JSON + missing content)", stats.MalformedLines)
	}
	if stats.EmbeddedVectors != 3 || stats.UpsertedVectors != 3 {
		t.Errorf("embedded/upserted = %d/%d, want 3/3", stats.EmbeddedVectors, stats.UpsertedVectors)
	}
	if stats.FailedVectors != 0 {
		t.Errorf("FailedVectors = %d, want 0", stats.FailedVectors)
	}

	if len(docs.docs) != 3 {
		t.Fatalf("docstore received %d documents, want 3", len(docs.docs))
	}
	if docs.docs[0].ID != "ml-intro" {
		t.Errorf("explicit ID lost: %q", docs.docs[0].ID)
	}

	collStats, err := store.Stats(context.Background(), "test_docs")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if collStats.VectorCount != 3 {
		t.Errorf("VectorCount = %d, want 3", collStats.VectorCount)
	}
	if collStats.Dimension != 4 {
		t.Errorf("Dimension = %d, want 4", collStats.Dimension)
	}

	if indexer.total() != 3 {
		t.Errorf("chunk indexer received %d documents, want 3", indexer.total())
	}
	if stats.IndexedDocuments != 3 {
		t.Errorf("IndexedDocuments = %d, want 3", stats.IndexedDocuments)
	}
}

func TestPipeline_IngestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.jsonl")
	err := os.WriteFile(path, []byte(`{"id": "d1", "content": "hello world"}`+"\n"), 0o644)
	if err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	p := newTestPipeline(t, DefaultConfig("files"), Dependencies{})
	stats, err := p.IngestFile(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("IngestFile() error = %v", err)
	}
	if stats.UpsertedVectors != 1 {
		t.Errorf("UpsertedVectors = %d, want 1", stats.UpsertedVectors)
	}

	if _, err := p.IngestFile(context.Background(), filepath.Join(t.TempDir(), "absent.jsonl"), nil); err == nil {
		t.Error("IngestFile() should fail on a missing file")
	}
}

func TestPipeline_AssignsMissingIDs(t *testing.T) {
	docs := &memDocs{}
	store := vectorstore.NewMemoryStore()
	p := newTestPipeline(t, DefaultConfig("ids"), Dependencies{Docs: docs, Store: store})

	input := []types.Document{
		{Content: "first"},
		{ID: "explicit", Content: "second"},
	}
	if _, err := p.IngestDocuments(context.Background(), input, nil); err != nil {
		t.Fatalf("IngestDocuments() error = %v", err)
	}

	// Vector IDs mirror the docstore-assigned IDs so delete and lookup
	// round-trip.
	embedder := newStubEmbedder()
	vec := embedder.vectorFor("first")
	hits, err := store.SimilaritySearch(context.Background(), vectorstore.SearchRequest{
		Collection: "ids", Vector: vec, K: 1,
	})
	if err != nil {
		t.Fatalf("SimilaritySearch() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Document.ID != "doc_1" {
		t.Errorf("hits = %+v, want doc_1 first", hits)
	}
}

func TestPipeline_DedupRemovesNearDuplicates(t *testing.T) {
	embedder := newStubEmbedder()
	embedder.vectors["the cache design"] = []float32{1, 0, 0, 0}
	embedder.vectors["the cache design, restated"] = []float32{1, 0, 0, 0}
	embedder.vectors["qdrant collections"] = []float32{0, 1, 0, 0}

	cfg := dedup.DefaultConfig()
	cfg.Clusters = 2
	cfg.Seed = 42
	engine := dedup.NewEngine(cfg, nil)

	store := vectorstore.NewMemoryStore()
	p := newTestPipeline(t, DefaultConfig("deduped"), Dependencies{
		Store: store, Embedder: embedder, Dedup: engine,
	})

	input := []types.Document{
		{ID: "a", Content: "the cache design"},
		{ID: "b", Content: "the cache design, restated"},
		{ID: "c", Content: "qdrant collections"},
	}
	stats, err := p.IngestDocuments(context.Background(), input, nil)
	if err != nil {
		t.Fatalf("IngestDocuments() error = %v", err)
	}

	if stats.DuplicatesRemoved != 1 {
		t.Errorf("DuplicatesRemoved = %d, want 1", stats.DuplicatesRemoved)
	}
	if stats.UpsertedVectors != 2 {
		t.Errorf("UpsertedVectors = %d, want 2", stats.UpsertedVectors)
	}

	collStats, _ := store.Stats(context.Background(), "deduped")
	if collStats.VectorCount != 2 {
		t.Errorf("VectorCount = %d, want 2", collStats.VectorCount)
	}
}

func TestPipeline_CleanNormalizesContent(t *testing.T) {
	docs := &memDocs{}
	cfg := DefaultConfig("cleaned")
	cfg.Clean = true
	p := newTestPipeline(t, cfg, Dependencies{Docs: docs})

	input := []types.Document{
		{ID: "d1", Content: "It is important to note that caches  speed up retrieval ."},
	}
	stats, err := p.IngestDocuments(context.Background(), input, nil)
	if err != nil {
		t.Fatalf("IngestDocuments() error = %v", err)
	}

	got := docs.docs[0].Content
	if got != "caches speed up retrieval." {
		t.Errorf("cleaned content = %q", got)
	}
	if stats.CleanedBytes == 0 {
		t.Error("CleanedBytes should be positive")
	}
}

func TestPipeline_EmbedFailureAborts(t *testing.T) {
	embedder := newStubEmbedder()
	embedder.err = errors.New("quota exhausted")
	p := newTestPipeline(t, DefaultConfig("failing"), Dependencies{Embedder: embedder})

	stats, err := p.IngestDocuments(context.Background(), []types.Document{{ID: "d1", Content: "x"}}, nil)
	if err == nil {
		t.Fatal("IngestDocuments() should fail when embedding fails")
	}
	if stats.UpsertedVectors != 0 {
		t.Errorf("UpsertedVectors = %d, want 0", stats.UpsertedVectors)
	}
}

func TestPipeline_UpsertFailureCountsNotFatal(t *testing.T) {
	store := &failingStore{MemoryStore: vectorstore.NewMemoryStore()}
	p := newTestPipeline(t, DefaultConfig("refused"), Dependencies{Store: store})

	input := []types.Document{
		{ID: "d1", Content: "one"},
		{ID: "d2", Content: "two"},
	}
	stats, err := p.IngestDocuments(context.Background(), input, nil)
	if err != nil {
		t.Fatalf("upsert failures should not abort the run, got %v", err)
	}
	if stats.FailedVectors != 2 {
		t.Errorf("FailedVectors = %d, want 2", stats.FailedVectors)
	}
	if stats.UpsertedVectors != 0 {
		t.Errorf("UpsertedVectors = %d, want 0", stats.UpsertedVectors)
	}
	if stats.BatchesProcessed != 1 {
		t.Errorf("BatchesProcessed = %d, want 1", stats.BatchesProcessed)
	}
}

func TestPipeline_IndexerFailureAborts(t *testing.T) {
	indexer := &recordingIndexer{err: errors.New("child embed failed")}
	p := newTestPipeline(t, DefaultConfig("chunks"), Dependencies{Chunks: indexer})

	_, err := p.IngestDocuments(context.Background(), []types.Document{{ID: "d1", Content: "x"}}, nil)
	if err == nil || !strings.Contains(err.Error(), "index chunks") {
		t.Errorf("IngestDocuments() error = %v, want index chunks failure", err)
	}
}

func TestPipeline_BatchSizeRespected(t *testing.T) {
	embedder := newStubEmbedder()
	indexer := &recordingIndexer{}
	cfg := DefaultConfig("batched")
	cfg.BatchSize = 2
	p := newTestPipeline(t, cfg, Dependencies{Embedder: embedder, Chunks: indexer})

	var progressCalls atomic.Int64
	input := make([]types.Document, 5)
	for i := range input {
		input[i] = types.Document{ID: fmt.Sprintf("d%d", i), Content: fmt.Sprintf("content %d", i)}
	}

	stats, err := p.IngestDocuments(context.Background(), input, func(Stats) {
		progressCalls.Add(1)
	})
	if err != nil {
		t.Fatalf("IngestDocuments() error = %v", err)
	}

	if embedder.batchCalls != 3 {
		t.Errorf("embed batches = %d, want 3", embedder.batchCalls)
	}
	if stats.BatchesProcessed != 3 {
		t.Errorf("upsert batches = %d, want 3", stats.BatchesProcessed)
	}
	if len(indexer.batches) != 3 {
		t.Errorf("indexer batches = %d, want 3", len(indexer.batches))
	}
	// One progress call per embed, upsert and index batch.
	if got := progressCalls.Load(); got != 9 {
		t.Errorf("progress calls = %d, want 9", got)
	}
}

func TestPipeline_EmptyInput(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig("empty"), Dependencies{})

	stats, err := p.IngestDocuments(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("IngestDocuments() error = %v", err)
	}
	if stats.TotalDocuments != 0 || stats.UpsertedVectors != 0 {
		t.Errorf("stats = %+v, want zero counters", stats)
	}
	if stats.EndTime.IsZero() {
		t.Error("EndTime should be set")
	}
}
