// Package retriever implements the multi-strategy retrieval engine.
// Six strategies share one interface: keyword (BM25), vector
// (embedding similarity), parent_doc (child-chunk search returning
// enclosing parents), multi_query (LLM query expansion), rerank (LLM
// candidate reordering), and ensemble (reciprocal rank fusion over
// sub-strategies). The Factory instantiates strategies by name and the
// Pipeline wraps them with caching, rank stamping, and metrics.
package retriever

import (
	"context"
	"log/slog"
	"time"

	"github.com/siftlabs/sift/pkg/cache"
	"github.com/siftlabs/sift/pkg/config"
	"github.com/siftlabs/sift/pkg/docstore"
	"github.com/siftlabs/sift/pkg/embedding"
	"github.com/siftlabs/sift/pkg/llm"
	"github.com/siftlabs/sift/pkg/logging"
	"github.com/siftlabs/sift/pkg/types"
	"github.com/siftlabs/sift/pkg/vectorstore"
)

// Strategy names accepted by the factory.
const (
	StrategyKeyword    = "keyword"
	StrategyVector     = "vector"
	StrategyParentDoc  = "parent_doc"
	StrategyMultiQuery = "multi_query"
	StrategyRerank     = "rerank"
	StrategyEnsemble   = "ensemble"

	// StrategyAuto selects a strategy from query features, see SelectStrategy.
	StrategyAuto = "auto"
)

// Names returns the registered strategy names in stable order.
func Names() []string {
	return []string{
		StrategyKeyword,
		StrategyVector,
		StrategyParentDoc,
		StrategyMultiQuery,
		StrategyRerank,
		StrategyEnsemble,
	}
}

// Retriever is a single retrieval strategy. Implementations return
// documents in their natural scoring order and attach their own score
// metadata; rank stamping and the k cap belong to the Pipeline.
type Retriever interface {
	// Name returns the registered strategy name.
	Name() string

	// Retrieve returns up to k documents relevant to the query, best
	// first. An empty corpus yields an empty slice, not an error.
	Retrieve(ctx context.Context, query string, k int) ([]types.Document, error)

	// Info describes the strategy and its effective parameters.
	Info() types.StrategyInfo
}

// DocumentAdder is implemented by strategies that accept new documents
// into their index.
type DocumentAdder interface {
	AddDocuments(ctx context.Context, docs []types.Document) error
}

// MetricsRecorder receives one record per completed retrieval. Emission
// is fire-and-forget; implementations must not block the caller.
type MetricsRecorder interface {
	RecordRetrieval(m types.RetrievalMetrics)
}

// Dependencies bundles the shared adapters strategies draw from. Build
// one during startup and hand it to the factory; tests inject fakes.
type Dependencies struct {
	// Docs is the document store backing keyword retrieval.
	Docs *docstore.Store

	// Vectors is the vector store backing similarity search.
	Vectors vectorstore.Store

	// Embedder converts text to vectors, usually cache-wrapped.
	Embedder embedding.Provider

	// LLM backs query expansion, reranking, evaluation, and synthesis.
	// Nil when no API key is configured; LLM-using strategies then fail
	// construction with a config error.
	LLM llm.Client

	// Cache stores retrieval results. Nil disables caching.
	Cache cache.Cache

	// Metrics receives per-retrieval records. Nil disables recording.
	Metrics MetricsRecorder

	// Logger receives strategy and pipeline logs.
	Logger *slog.Logger

	// Collection is the vector store collection documents live in.
	Collection string

	// Retrieval carries the strategy tuning knobs.
	Retrieval config.RetrievalConfig

	// CacheTTL bounds the lifetime of cached retrieval results.
	CacheTTL time.Duration
}

// normalize fills unset dependency fields with defaults so strategies
// can rely on them.
func (d *Dependencies) normalize() {
	if d.Logger == nil {
		d.Logger = logging.WithComponent("retriever")
	}
	if d.Collection == "" {
		d.Collection = config.DefaultConfig().Vector.Collection
	}
	if d.CacheTTL <= 0 {
		d.CacheTTL = time.Hour
	}

	def := config.DefaultConfig().Retrieval
	r := &d.Retrieval
	if r.DefaultK <= 0 {
		r.DefaultK = def.DefaultK
	}
	if r.MaxK <= 0 {
		r.MaxK = def.MaxK
	}
	if r.ParentChunkSize <= 0 {
		r.ParentChunkSize = def.ParentChunkSize
	}
	if r.ChildChunkSize <= 0 {
		r.ChildChunkSize = def.ChildChunkSize
	}
	if r.ChunkOverlap <= 0 {
		r.ChunkOverlap = def.ChunkOverlap
	}
	if r.NumQueries <= 0 {
		r.NumQueries = def.NumQueries
	}
	if r.RerankInitialK <= 0 {
		r.RerankInitialK = def.RerankInitialK
	}
	if len(r.EnsembleMembers) == 0 {
		r.EnsembleMembers = def.EnsembleMembers
	}
}
