package retriever

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/siftlabs/sift/pkg/types"
)

// Factory builds strategies by name over a shared dependency bundle.
// Instances are cached so lazily built state, such as the BM25 index
// and the parent mapping, survives across calls.
type Factory struct {
	deps *Dependencies

	mu        sync.Mutex
	instances map[string]Retriever
}

// NewFactory creates a strategy factory. The dependency bundle is
// normalized in place.
func NewFactory(deps *Dependencies) *Factory {
	deps.normalize()
	return &Factory{
		deps:      deps,
		instances: make(map[string]Retriever),
	}
}

// Create returns the named strategy wrapped in the retrieval pipeline.
// The name "auto" selects a strategy from the query at call time and is
// not accepted here; use CreateAuto.
func (f *Factory) Create(name string) (*Pipeline, error) {
	strategy, err := f.Strategy(name)
	if err != nil {
		return nil, err
	}
	return NewPipeline(strategy, f.deps), nil
}

// CreateAuto selects a strategy from the query features and returns it
// pipeline-wrapped.
func (f *Factory) CreateAuto(query string) (*Pipeline, error) {
	return f.Create(SelectStrategy(query))
}

// Strategy returns the bare named strategy, unwrapped. Callers that
// feed documents through DocumentAdder need this; retrieval should go
// through Create.
func (f *Factory) Strategy(name string) (Retriever, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.strategyLocked(name)
}

// Strategies returns the registered names in stable order.
func (f *Factory) Strategies() []string {
	return Names()
}

func (f *Factory) strategyLocked(name string) (Retriever, error) {
	if r, ok := f.instances[name]; ok {
		return r, nil
	}
	r, err := f.buildLocked(name)
	if err != nil {
		return nil, err
	}
	f.instances[name] = r
	return r, nil
}

func (f *Factory) buildLocked(name string) (Retriever, error) {
	deps := f.deps
	switch name {
	case StrategyKeyword:
		return NewKeywordRetriever(deps.Docs, DefaultKeywordConfig(), deps.Logger), nil

	case StrategyVector:
		return NewVectorRetriever(deps.Vectors, deps.Embedder, VectorConfig{
			Collection:     deps.Collection,
			ScoreThreshold: deps.Retrieval.ScoreThreshold,
		}, deps.Logger), nil

	case StrategyParentDoc:
		return NewParentDocRetriever(deps.Vectors, deps.Embedder, ParentDocConfig{
			Collection:      deps.Collection,
			ParentChunkSize: deps.Retrieval.ParentChunkSize,
			ChildChunkSize:  deps.Retrieval.ChildChunkSize,
			ChunkOverlap:    deps.Retrieval.ChunkOverlap,
		}, deps.Logger), nil

	case StrategyMultiQuery:
		if deps.LLM == nil {
			return nil, newError(name, KindConfig, errors.New("llm api key required for query expansion"))
		}
		base, err := f.strategyLocked(StrategyVector)
		if err != nil {
			return nil, err
		}
		return NewMultiQueryRetriever(base, deps.LLM, MultiQueryConfig{
			NumQueries: deps.Retrieval.NumQueries,
		}, deps.Logger), nil

	case StrategyRerank:
		if deps.LLM == nil {
			return nil, newError(name, KindConfig, errors.New("llm api key required for reranking"))
		}
		base, err := f.strategyLocked(StrategyVector)
		if err != nil {
			return nil, err
		}
		return NewRerankRetriever(base, deps.LLM, RerankConfig{
			InitialK: deps.Retrieval.RerankInitialK,
		}, deps.Logger), nil

	case StrategyEnsemble:
		return f.buildEnsembleLocked()

	default:
		return nil, newError(name, KindStrategyUnknown,
			fmt.Errorf("unknown strategy %q, registered: %s", name, strings.Join(Names(), ", ")))
	}
}

// buildEnsembleLocked assembles the configured members, skipping any
// that cannot be constructed (such as LLM-backed members without an API
// key) so the ensemble degrades instead of failing outright.
func (f *Factory) buildEnsembleLocked() (Retriever, error) {
	ensemble := NewEnsembleRetriever(EnsembleConfig{
		Parallel: f.deps.Retrieval.ParallelFusion,
	}, f.deps.Logger)

	for _, name := range f.deps.Retrieval.EnsembleMembers {
		if name == StrategyEnsemble {
			continue
		}
		member, err := f.strategyLocked(name)
		if err != nil {
			f.deps.Logger.Warn("ensemble member unavailable", "member", name, "error", err)
			continue
		}
		ensemble.AddStrategy(member, f.deps.Retrieval.EnsembleWeight(name))
	}

	if len(ensemble.Members()) == 0 {
		return nil, newError(StrategyEnsemble, KindConfig, errors.New("no ensemble members could be constructed"))
	}
	return ensemble, nil
}

// Query feature terms driving auto-selection and recommendations.
var (
	factualTerms    = []string{"what", "when", "where", "who"}
	technicalTerms  = []string{"function", "class", "method", "api", "error", "bug", "fix"}
	conceptualTerms = []string{"explain", "how", "why", "compare"}
)

// SelectStrategy picks a strategy from query features. It is a pure
// function of the query string: rules are checked in order and the
// first match wins.
func SelectStrategy(query string) string {
	words := queryWords(query)
	n := len(words)

	switch {
	case n <= 3 && hasAnyTerm(words, factualTerms):
		return StrategyKeyword
	case hasAnyTerm(words, technicalTerms):
		return StrategyKeyword
	case n > 10 || hasAnyTerm(words, conceptualTerms):
		return StrategyEnsemble
	case n >= 4 && n <= 10:
		return StrategyVector
	default:
		return StrategyEnsemble
	}
}

// Recommend analyses a query and suggests strategies without
// instantiating any. The rules mirror SelectStrategy's ordering.
func Recommend(query string) types.Recommendation {
	words := queryWords(query)
	n := len(words)

	analysis := types.QueryAnalysis{Length: n}
	switch {
	case n <= 3 && hasAnyTerm(words, factualTerms):
		analysis.Type = "factual"
		return types.Recommendation{
			Primary:       StrategyKeyword,
			Alternatives:  []string{StrategyVector, StrategyRerank},
			Reasoning:     "short factual queries match well on exact terms",
			QueryAnalysis: analysis,
		}
	case hasAnyTerm(words, technicalTerms):
		analysis.Type = "technical"
		return types.Recommendation{
			Primary:       StrategyKeyword,
			Alternatives:  []string{StrategyParentDoc, StrategyRerank},
			Reasoning:     "technical identifiers favor exact keyword matching with surrounding context as backup",
			QueryAnalysis: analysis,
		}
	case n > 10 || hasAnyTerm(words, conceptualTerms):
		analysis.Type = "conceptual"
		return types.Recommendation{
			Primary:       StrategyEnsemble,
			Alternatives:  []string{StrategyMultiQuery, StrategyVector},
			Reasoning:     "broad conceptual questions benefit from fusing multiple strategies",
			QueryAnalysis: analysis,
		}
	default:
		analysis.Type = "general"
		return types.Recommendation{
			Primary:       StrategyVector,
			Alternatives:  []string{StrategyEnsemble, StrategyRerank},
			Reasoning:     "semantic similarity handles general queries well",
			QueryAnalysis: analysis,
		}
	}
}

// queryWords lowercases, splits on whitespace, and strips surrounding
// punctuation so "What?" matches "what".
func queryWords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if w := strings.Trim(f, "?!.,:;\"'()"); w != "" {
			words = append(words, w)
		}
	}
	return words
}

func hasAnyTerm(words []string, terms []string) bool {
	for _, w := range words {
		for _, t := range terms {
			if w == t {
				return true
			}
		}
	}
	return false
}
