// Package dedup collapses near-duplicate embeddings before they reach the
// vector store. Ingesting the same paragraph twice (boilerplate headers,
// repeated disclaimers, mirrored docs) pollutes retrieval with identical
// hits; clustering the batch and keeping one representative per
// near-duplicate group keeps the index lean.
package dedup

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"time"

	vecmath "github.com/siftlabs/sift/pkg/math"
	"github.com/siftlabs/sift/pkg/types"
)

// Config holds near-duplicate suppression parameters.
type Config struct {
	// Threshold is the cosine distance below which two embeddings are
	// treated as the same content. Typical range: 0.01-0.10.
	Threshold float64

	// Clusters is the number of K-Means cells. 0 means sqrt(N/2).
	Clusters int

	// MaxIterations bounds the K-Means loop. Default: 10.
	MaxIterations int

	// Workers caps parallelism. Default: NumCPU.
	Workers int

	// Seed makes clustering reproducible. 0 seeds from the clock.
	Seed int64
}

// DefaultConfig returns defaults tuned for documentation corpora.
func DefaultConfig() Config {
	return Config{
		Threshold:     0.05,
		MaxIterations: 10,
		Workers:       runtime.NumCPU(),
	}
}

// Engine clusters a batch of embeddings and drops near-duplicates,
// keeping the member closest to each cluster centroid as the
// representative.
type Engine struct {
	cfg    Config
	rng    *rand.Rand
	logger *slog.Logger
}

// NewEngine creates a deduplication engine.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger,
	}
}

// cell is one K-Means cluster: a centroid plus the indices of the
// input vectors assigned to it.
type cell struct {
	centroid []float32
	members  []int
}

// Deduplicate partitions the batch into clusters and suppresses members
// that sit within Threshold cosine distance of an already-kept member of
// the same cluster. Survivors come back in input order.
func (e *Engine) Deduplicate(ctx context.Context, vectors []types.Vector) (*types.DeduplicationResult, error) {
	start := time.Now()

	if len(vectors) == 0 {
		return &types.DeduplicationResult{}, nil
	}

	k := e.cfg.Clusters
	if k <= 0 {
		k = int(math.Sqrt(float64(len(vectors)) / 2))
	}
	if k < 1 {
		k = 1
	}
	if k > len(vectors) {
		k = len(vectors)
	}

	cells, err := e.cluster(ctx, vectors, k)
	if err != nil {
		return nil, err
	}

	keep := e.pruneAll(vectors, cells)
	sort.Ints(keep)

	unique := make([]types.Vector, 0, len(keep))
	for _, idx := range keep {
		unique = append(unique, vectors[idx])
	}

	result := &types.DeduplicationResult{
		UniqueVectors:    unique,
		DuplicateCount:   len(vectors) - len(unique),
		TotalProcessed:   len(vectors),
		ClusterCount:     k,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}

	e.logger.Debug("deduplicated batch",
		"total", result.TotalProcessed,
		"unique", len(unique),
		"dropped", result.DuplicateCount,
		"clusters", k)

	return result, nil
}

// cluster runs Lloyd's algorithm with k-means++ seeding.
func (e *Engine) cluster(ctx context.Context, vectors []types.Vector, k int) ([]cell, error) {
	dim := vectors[0].Dimension()
	centroids := e.seedCentroids(vectors, k, dim)
	assignments := make([]int, len(vectors))

	for iter := 0; iter < e.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := e.assign(vectors, centroids, assignments)
		if changed == 0 && iter > 0 {
			break
		}
		recomputeCentroids(vectors, assignments, centroids, dim)
	}

	cells := make([]cell, k)
	for i := range cells {
		cells[i].centroid = centroids[i]
	}
	for idx, c := range assignments {
		cells[c].members = append(cells[c].members, idx)
	}
	return cells, nil
}

// seedCentroids picks initial centroids k-means++ style: the first at
// random, each subsequent one weighted by squared distance to the
// nearest centroid chosen so far. Spread-out seeds converge in fewer
// iterations than a plain random sample.
func (e *Engine) seedCentroids(vectors []types.Vector, k, dim int) [][]float32 {
	centroids := make([][]float32, 0, k)

	first := e.rng.Intn(len(vectors))
	centroids = append(centroids, cloneValues(vectors[first].Values, dim))

	dists := make([]float64, len(vectors))
	for len(centroids) < k {
		var total float64
		last := centroids[len(centroids)-1]
		for i, v := range vectors {
			d := vecmath.CosineDistance(v.Values, last)
			d *= d
			if len(centroids) == 1 || d < dists[i] {
				dists[i] = d
			}
			total += dists[i]
		}

		if total == 0 {
			// Every remaining vector coincides with a centroid.
			// Fall back to an arbitrary pick so we still return k seeds.
			centroids = append(centroids, cloneValues(vectors[e.rng.Intn(len(vectors))].Values, dim))
			continue
		}

		target := e.rng.Float64() * total
		chosen := len(vectors) - 1
		var acc float64
		for i := range vectors {
			acc += dists[i]
			if acc >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, cloneValues(vectors[chosen].Values, dim))
	}

	return centroids
}

func cloneValues(src []float32, dim int) []float32 {
	dst := make([]float32, dim)
	copy(dst, src)
	return dst
}

// assign moves each vector to its nearest centroid and reports how many
// assignments changed. The scan is partitioned across Workers goroutines.
func (e *Engine) assign(vectors []types.Vector, centroids [][]float32, assignments []int) int {
	n := len(vectors)
	workers := e.cfg.Workers
	if workers > n {
		workers = n
	}

	span := (n + workers - 1) / workers
	changes := make([]int, workers)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		lo := w * span
		hi := lo + span
		if hi > n {
			hi = n
		}
		if lo >= hi {
			continue
		}

		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				best := nearestCentroid(vectors[i].Values, centroids)
				if assignments[i] != best {
					assignments[i] = best
					changes[w]++
				}
			}
		}(w, lo, hi)
	}
	wg.Wait()

	var total int
	for _, c := range changes {
		total += c
	}
	return total
}

func nearestCentroid(v []float32, centroids [][]float32) int {
	bestDist := math.MaxFloat64
	best := 0
	for i, c := range centroids {
		if d := vecmath.CosineDistance(v, c); d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// recomputeCentroids replaces each centroid with the mean of its members.
// Empty cells keep their previous centroid.
func recomputeCentroids(vectors []types.Vector, assignments []int, centroids [][]float32, dim int) {
	k := len(centroids)
	sums := make([][]float64, k)
	counts := make([]int, k)
	for i := range sums {
		sums[i] = make([]float64, dim)
	}

	for idx, c := range assignments {
		counts[c]++
		for d := 0; d < dim; d++ {
			sums[c][d] += float64(vectors[idx].Values[d])
		}
	}

	for i := 0; i < k; i++ {
		if counts[i] == 0 {
			continue
		}
		inv := 1.0 / float64(counts[i])
		for d := 0; d < dim; d++ {
			centroids[i][d] = float32(sums[i][d] * inv)
		}
	}
}

// pruneAll prunes every cell in parallel and returns the surviving
// vector indices in arbitrary order.
func (e *Engine) pruneAll(vectors []types.Vector, cells []cell) []int {
	var mu sync.Mutex
	keep := make([]int, 0, len(vectors))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.Workers)

	for _, c := range cells {
		if len(c.members) == 0 {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(c cell) {
			defer wg.Done()
			defer func() { <-sem }()

			survivors := e.pruneCell(vectors, c)

			mu.Lock()
			keep = append(keep, survivors...)
			mu.Unlock()
		}(c)
	}

	wg.Wait()
	return keep
}

// pruneCell walks a cell's members from the centroid outward and keeps
// a member only if it is at least Threshold away from everything kept
// so far. Comparing against all survivors rather than a single medoid
// catches chains of near-duplicates that straddle the threshold.
func (e *Engine) pruneCell(vectors []types.Vector, c cell) []int {
	if len(c.members) <= 1 {
		return c.members
	}

	type ranked struct {
		idx  int
		dist float64
	}
	ordered := make([]ranked, len(c.members))
	for i, idx := range c.members {
		ordered[i] = ranked{idx, vecmath.CosineDistance(vectors[idx].Values, c.centroid)}
	}
	sort.Slice(ordered, func(a, b int) bool {
		if ordered[a].dist != ordered[b].dist {
			return ordered[a].dist < ordered[b].dist
		}
		return ordered[a].idx < ordered[b].idx
	})

	kept := make([]int, 0, len(ordered))
	for _, r := range ordered {
		dup := false
		for _, k := range kept {
			if vecmath.CosineDistance(vectors[r.idx].Values, vectors[k].Values) < e.cfg.Threshold {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, r.idx)
		}
	}
	return kept
}
