package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/siftlabs/sift/pkg/types"
	"github.com/siftlabs/sift/pkg/vectorstore"
)

// newVectorFixture wires a vector retriever over the in-memory store
// with hand-picked embeddings so similarity ordering is known.
func newVectorFixture(t *testing.T, threshold float64) (*VectorRetriever, *stubEmbedder) {
	t.Helper()

	embedder := newStubEmbedder()
	embedder.vectors["neural network training"] = []float32{1, 0, 0, 0}
	embedder.vectors["deep learning uses neural networks"] = []float32{1, 0, 0, 0}
	embedder.vectors["convolutional architectures for vision"] = []float32{0.8, 0.6, 0, 0}
	embedder.vectors["slow cooking pasta recipes"] = []float32{0, 1, 0, 0}

	r := NewVectorRetriever(
		vectorstore.NewMemoryStore(),
		embedder,
		VectorConfig{Collection: "test_documents", ScoreThreshold: threshold},
		discardLogger(),
	)

	err := r.AddDocuments(context.Background(), []types.Document{
		docWithSource("a", "deep learning uses neural networks", "ml.md"),
		docWithSource("b", "convolutional architectures for vision", "cv.md"),
		docWithSource("c", "slow cooking pasta recipes", "food.md"),
	})
	if err != nil {
		t.Fatalf("AddDocuments() error = %v", err)
	}
	return r, embedder
}

func TestVectorRetriever_OrdersBySimilarity(t *testing.T) {
	r, _ := newVectorFixture(t, 0)

	results, err := r.Retrieve(context.Background(), "neural network training", 2)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "b" {
		t.Errorf("got order [%s, %s], want [a, b]", results[0].ID, results[1].ID)
	}

	first := metaNumber(t, results[0], types.MetaSimilarityScore)
	second := metaNumber(t, results[1], types.MetaSimilarityScore)
	if first < second {
		t.Errorf("similarity scores not descending: %f < %f", first, second)
	}
	if first < 0.99 {
		t.Errorf("exact-match similarity = %f, want ~1.0", first)
	}
}

func TestVectorRetriever_ScoreThreshold(t *testing.T) {
	r, _ := newVectorFixture(t, 0.5)

	results, err := r.Retrieve(context.Background(), "neural network training", 10)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results above threshold, want 2", len(results))
	}
	for _, doc := range results {
		if doc.ID == "c" {
			t.Error("orthogonal document survived the similarity floor")
		}
	}
}

func TestVectorRetriever_EmptyQuery(t *testing.T) {
	r, _ := newVectorFixture(t, 0)

	results, err := r.Retrieve(context.Background(), "   ", 5)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results for whitespace query, want 0", len(results))
	}
}

func TestVectorRetriever_EmptyStore(t *testing.T) {
	r := NewVectorRetriever(
		vectorstore.NewMemoryStore(),
		newStubEmbedder(),
		VectorConfig{Collection: "never_created"},
		discardLogger(),
	)

	results, err := r.Retrieve(context.Background(), "anything at all", 5)
	if err != nil {
		t.Fatalf("Retrieve() on empty store: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from empty store, want 0", len(results))
	}
}

func TestVectorRetriever_DeleteDocuments(t *testing.T) {
	r, _ := newVectorFixture(t, 0)
	ctx := context.Background()

	if err := r.DeleteDocuments(ctx, []string{"a"}); err != nil {
		t.Fatalf("DeleteDocuments() error = %v", err)
	}

	results, err := r.Retrieve(ctx, "neural network training", 10)
	if err != nil {
		t.Fatalf("Retrieve() after delete: %v", err)
	}
	for _, doc := range results {
		if doc.ID == "a" {
			t.Error("deleted document still retrievable")
		}
	}
}

func TestVectorRetriever_CollectionInfo(t *testing.T) {
	r, embedder := newVectorFixture(t, 0)

	stats, err := r.CollectionInfo(context.Background())
	if err != nil {
		t.Fatalf("CollectionInfo() error = %v", err)
	}
	if stats.VectorCount != 3 {
		t.Errorf("VectorCount = %d, want 3", stats.VectorCount)
	}
	if stats.Dimension != embedder.Dimension() {
		t.Errorf("Dimension = %d, want %d", stats.Dimension, embedder.Dimension())
	}
}

func TestVectorRetriever_EmbedderFailure(t *testing.T) {
	r, embedder := newVectorFixture(t, 0)
	embedder.err = errors.New("provider unreachable")

	_, err := r.Retrieve(context.Background(), "neural network training", 5)
	if err == nil {
		t.Fatal("Retrieve() returned nil error with failing embedder")
	}
	if kind := KindOf(err); kind != KindAdapterUnavailable {
		t.Errorf("KindOf(err) = %q, want %q", kind, KindAdapterUnavailable)
	}
}

func TestVectorRetriever_PreservesSourceMetadata(t *testing.T) {
	r, _ := newVectorFixture(t, 0)

	results, err := r.Retrieve(context.Background(), "neural network training", 1)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if got := results[0].Metadata[types.MetaSource]; got != "ml.md" {
		t.Errorf("source metadata = %v, want ml.md", got)
	}
}
