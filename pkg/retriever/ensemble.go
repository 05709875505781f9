package retriever

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/siftlabs/sift/pkg/types"
)

// Reciprocal rank fusion constants: a document at rank r contributes
// weight/(r+rrfConstant), and each member is queried at min(3*k,
// ensembleSubKCap) results.
const (
	rrfConstant     = 60.0
	ensembleSubKCap = 15
)

// EnsembleConfig holds fusion settings.
type EnsembleConfig struct {
	// Parallel fans sub-strategies out concurrently. Fusion order is
	// deterministic either way.
	Parallel bool
}

// EnsembleRetriever fuses the rankings of several sub-strategies with
// reciprocal rank fusion. A failing member contributes an empty list
// and never fails the ensemble. Membership can change at runtime.
type EnsembleRetriever struct {
	logger   *slog.Logger
	parallel bool

	mu      sync.RWMutex
	members []ensembleMember
}

type ensembleMember struct {
	name      string
	retriever Retriever
	weight    float64
}

// NewEnsembleRetriever creates an empty ensemble; add members with
// AddStrategy.
func NewEnsembleRetriever(cfg EnsembleConfig, logger *slog.Logger) *EnsembleRetriever {
	return &EnsembleRetriever{
		logger:   logger,
		parallel: cfg.Parallel,
	}
}

// Name returns the strategy name.
func (e *EnsembleRetriever) Name() string {
	return StrategyEnsemble
}

// Info describes the ensemble and its current members.
func (e *EnsembleRetriever) Info() types.StrategyInfo {
	e.mu.RLock()
	members := make([]string, len(e.members))
	weights := make(map[string]interface{}, len(e.members))
	for i, m := range e.members {
		members[i] = m.name
		weights[m.name] = m.weight
	}
	e.mu.RUnlock()

	return types.StrategyInfo{
		Strategy:    StrategyEnsemble,
		Description: "reciprocal rank fusion over sub-strategies; robust across query types",
		Parameters: map[string]interface{}{
			"members":  members,
			"weights":  weights,
			"parallel": e.parallel,
		},
	}
}

// AddStrategy registers a sub-strategy with the given weight, replacing
// any member of the same name. Weights at or below zero count as 1.
func (e *EnsembleRetriever) AddStrategy(r Retriever, weight float64) {
	if weight <= 0 {
		weight = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, m := range e.members {
		if m.name == r.Name() {
			e.members[i] = ensembleMember{name: r.Name(), retriever: r, weight: weight}
			return
		}
	}
	e.members = append(e.members, ensembleMember{name: r.Name(), retriever: r, weight: weight})
}

// RemoveStrategy drops a sub-strategy by name.
func (e *EnsembleRetriever) RemoveStrategy(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, m := range e.members {
		if m.name == name {
			e.members = append(e.members[:i], e.members[i+1:]...)
			return
		}
	}
}

// UpdateWeights adjusts the weights of existing members; unknown names
// are ignored.
func (e *EnsembleRetriever) UpdateWeights(weights map[string]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, m := range e.members {
		if w, ok := weights[m.name]; ok && w > 0 {
			e.members[i].weight = w
		}
	}
}

// Members returns the current member names in registration order.
func (e *EnsembleRetriever) Members() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, len(e.members))
	for i, m := range e.members {
		names[i] = m.name
	}
	return names
}

// Retrieve runs every member at min(3*k, 15) results and fuses the
// rankings with RRF. Results are sorted by fused score, ties broken by
// first insertion across members in registration order, and cut to k.
func (e *EnsembleRetriever) Retrieve(ctx context.Context, query string, k int) ([]types.Document, error) {
	members := e.snapshot()
	if len(members) == 0 {
		return nil, newError(StrategyEnsemble, KindConfig, errors.New("no sub-strategies configured"))
	}

	subK := 3 * k
	if subK > ensembleSubKCap {
		subK = ensembleSubKCap
	}

	lists := make([][]types.Document, len(members))
	if e.parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i, m := range members {
			g.Go(func() error {
				lists[i] = e.retrieveMember(gctx, m, query, subK)
				return nil
			})
		}
		// Members never return errors; failures become empty lists.
		_ = g.Wait()
	} else {
		for i, m := range members {
			lists[i] = e.retrieveMember(ctx, m, query, subK)
		}
	}

	fused := fuse(members, lists)
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

// retrieveMember isolates one sub-strategy call: an error is logged and
// yields an empty contribution.
func (e *EnsembleRetriever) retrieveMember(ctx context.Context, m ensembleMember, query string, k int) []types.Document {
	docs, err := m.retriever.Retrieve(ctx, query, k)
	if err != nil {
		e.logger.Warn("ensemble member failed",
			"kind", string(KindSubStrategyFailure),
			"member", m.name,
			"error", err)
		return nil
	}
	return docs
}

func (e *EnsembleRetriever) snapshot() []ensembleMember {
	e.mu.RLock()
	defer e.mu.RUnlock()
	members := make([]ensembleMember, len(e.members))
	copy(members, e.members)
	return members
}

// fuse merges member rankings with reciprocal rank fusion. Duplicate
// documents keep the instance carrying the most metadata keys, and each
// result is stamped with rrf_score and contributing_strategies.
func fuse(members []ensembleMember, lists [][]types.Document) []types.Document {
	type fusionEntry struct {
		doc          types.Document
		score        float64
		contributors []string
		order        int
	}

	entries := make(map[string]*fusionEntry)
	ordered := make([]*fusionEntry, 0)

	for mi, m := range members {
		for rank, doc := range lists[mi] {
			id := fusionIdentity(doc)
			entry, ok := entries[id]
			if !ok {
				entry = &fusionEntry{doc: doc, order: len(ordered)}
				entries[id] = entry
				ordered = append(ordered, entry)
			} else if len(doc.Metadata) > len(entry.doc.Metadata) {
				entry.doc = doc
			}
			entry.score += m.weight / (float64(rank+1) + rrfConstant)
			if !containsString(entry.contributors, m.name) {
				entry.contributors = append(entry.contributors, m.name)
			}
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].score > ordered[j].score
	})

	results := make([]types.Document, 0, len(ordered))
	for _, entry := range ordered {
		doc := entry.doc.Clone()
		doc.SetMeta(types.MetaRRFScore, entry.score)
		doc.SetMeta(types.MetaContributingStrategies, entry.contributors)
		results = append(results, doc)
	}
	return results
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
