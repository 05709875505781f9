package dedup

import (
	"context"
	"math/rand"
	"testing"

	"github.com/siftlabs/sift/pkg/types"
)

func unit(id string, values ...float32) types.Vector {
	return types.Vector{ID: id, Values: values, Metadata: map[string]interface{}{}}
}

func ids(vectors []types.Vector) []string {
	out := make([]string, len(vectors))
	for i, v := range vectors {
		out[i] = v.ID
	}
	return out
}

func TestDeduplicate_CollapsesExactDuplicates(t *testing.T) {
	engine := NewEngine(Config{Threshold: 0.05, Clusters: 2, Seed: 42, Workers: 2}, nil)

	vectors := []types.Vector{
		unit("a1", 1, 0, 0, 0),
		unit("a2", 1, 0, 0, 0),
		unit("b", 0, 1, 0, 0),
		unit("c", 0, 0, 1, 0),
	}

	result, err := engine.Deduplicate(context.Background(), vectors)
	if err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}

	// Identical vectors always share a cluster, so exactly one of the
	// pair survives. Orthogonal vectors are never within threshold.
	got := ids(result.UniqueVectors)
	want := []string{"a1", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("unique ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("unique[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if result.DuplicateCount != 1 {
		t.Errorf("DuplicateCount = %d, want 1", result.DuplicateCount)
	}
	if result.TotalProcessed != 4 {
		t.Errorf("TotalProcessed = %d, want 4", result.TotalProcessed)
	}
	if result.ClusterCount != 2 {
		t.Errorf("ClusterCount = %d, want 2", result.ClusterCount)
	}
}

func TestDeduplicate_AllDistinctSurvive(t *testing.T) {
	engine := NewEngine(Config{Threshold: 0.05, Clusters: 2, Seed: 7}, nil)

	vectors := []types.Vector{
		unit("e1", 1, 0, 0, 0),
		unit("e2", 0, 1, 0, 0),
		unit("e3", 0, 0, 1, 0),
		unit("e4", 0, 0, 0, 1),
	}

	result, err := engine.Deduplicate(context.Background(), vectors)
	if err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}

	got := ids(result.UniqueVectors)
	want := []string{"e1", "e2", "e3", "e4"}
	if len(got) != 4 {
		t.Fatalf("unique ids = %v, want all four inputs", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("unique[%d] = %q, want %q (input order must be preserved)", i, got[i], want[i])
		}
	}
	if result.DuplicateCount != 0 {
		t.Errorf("DuplicateCount = %d, want 0", result.DuplicateCount)
	}
}

func TestDeduplicate_SuppressesNearDuplicateChains(t *testing.T) {
	// Three unit vectors at 0, 25 and 40 degrees. Adjacent pairs beyond
	// 15 degrees are distinct at threshold 0.05, but the 25/40 pair
	// (cosine distance ~0.034) is a duplicate. Comparing against every
	// surviving member catches the chained pair even though both ends
	// of the chain are far apart.
	engine := NewEngine(Config{Threshold: 0.05, Clusters: 1, Seed: 3}, nil)

	vectors := []types.Vector{
		unit("m", 1, 0, 0, 0),
		unit("y", 0.9063078, 0.4226183, 0, 0),
		unit("x", 0.7660444, 0.6427876, 0, 0),
	}

	result, err := engine.Deduplicate(context.Background(), vectors)
	if err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}

	got := ids(result.UniqueVectors)
	if len(got) != 2 || got[0] != "m" || got[1] != "y" {
		t.Fatalf("unique ids = %v, want [m y]", got)
	}
	if result.DuplicateCount != 1 {
		t.Errorf("DuplicateCount = %d, want 1", result.DuplicateCount)
	}
}

func TestDeduplicate_EmptyInput(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)

	result, err := engine.Deduplicate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}
	if len(result.UniqueVectors) != 0 {
		t.Errorf("UniqueVectors = %v, want empty", result.UniqueVectors)
	}
	if result.TotalProcessed != 0 || result.DuplicateCount != 0 {
		t.Errorf("result = %+v, want zero counts", result)
	}
	if pct := result.SavingsPercent(); pct != 0 {
		t.Errorf("SavingsPercent() = %v, want 0", pct)
	}
}

func TestDeduplicate_ClustersClampedToInputSize(t *testing.T) {
	engine := NewEngine(Config{Threshold: 0.05, Clusters: 10, Seed: 1}, nil)

	vectors := []types.Vector{
		unit("e1", 1, 0, 0, 0),
		unit("e2", 0, 1, 0, 0),
		unit("e3", 0, 0, 1, 0),
	}

	result, err := engine.Deduplicate(context.Background(), vectors)
	if err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}
	if result.ClusterCount != 3 {
		t.Errorf("ClusterCount = %d, want 3 (clamped to input size)", result.ClusterCount)
	}
	if len(result.UniqueVectors) != 3 {
		t.Errorf("unique count = %d, want 3", len(result.UniqueVectors))
	}
}

func TestDeduplicate_DeterministicWithSeed(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	vectors := make([]types.Vector, 30)
	for i := range vectors {
		values := make([]float32, 8)
		for d := range values {
			values[d] = rng.Float32()
		}
		vectors[i] = types.Vector{ID: string(rune('a' + i)), Values: values}
	}

	run := func() []string {
		engine := NewEngine(Config{Threshold: 0.02, Seed: 7, Workers: 4}, nil)
		result, err := engine.Deduplicate(context.Background(), vectors)
		if err != nil {
			t.Fatalf("Deduplicate() error = %v", err)
		}
		return ids(result.UniqueVectors)
	}

	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatalf("runs disagree: %d vs %d survivors", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("runs disagree at %d: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestDeduplicate_ContextCancelled(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Deduplicate(ctx, []types.Vector{
		unit("a", 1, 0),
		unit("b", 0, 1),
	})
	if err == nil {
		t.Fatal("Deduplicate() with cancelled context should fail")
	}
}
