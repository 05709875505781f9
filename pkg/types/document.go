package types

import "strings"

// Metadata keys reserved for the retrieval engine. Strategies write these;
// ingestion metadata under any other key is preserved verbatim.
const (
	MetaStrategy               = "retrieval_strategy"
	MetaRank                   = "rank"
	MetaSimilarityScore        = "similarity_score"
	MetaBM25Score              = "bm25_score"
	MetaRRFScore               = "rrf_score"
	MetaContributingStrategies = "contributing_strategies"
	MetaRerankScore            = "rerank_score"
	MetaChunkType              = "chunk_type"
	MetaParentDocumentID       = "parent_document_id"
	MetaParentChunkSize        = "parent_chunk_size"
	MetaChildChunkSize         = "child_chunk_size"
	MetaSource                 = "source"
)

// Document is a retrievable text payload with an open metadata map.
type Document struct {
	// ID is the identifier in the document or vector store
	ID string `json:"id,omitempty"`

	// Content is the text payload
	Content string `json:"content"`

	// Metadata contains ingestion metadata plus engine-written keys
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewDocument creates a Document with an initialized metadata map.
func NewDocument(id, content string) Document {
	return Document{
		ID:       id,
		Content:  content,
		Metadata: make(map[string]interface{}),
	}
}

// Clone creates a deep copy of the document.
func (d Document) Clone() Document {
	metadata := make(map[string]interface{}, len(d.Metadata))
	for k, v := range d.Metadata {
		metadata[k] = v
	}
	return Document{
		ID:       d.ID,
		Content:  d.Content,
		Metadata: metadata,
	}
}

// SetMeta assigns a metadata key, allocating the map if needed.
func (d *Document) SetMeta(key string, value interface{}) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]interface{})
	}
	d.Metadata[key] = value
}

// TokenCount returns the number of whitespace-separated tokens in the content.
func (d Document) TokenCount() int {
	return len(strings.Fields(d.Content))
}

// RetrievalRequest describes one retrieval call.
type RetrievalRequest struct {
	// Query is the user-supplied question or search text
	Query string `json:"query"`

	// Strategy is one of the registered strategy names, or "auto"
	Strategy string `json:"strategy,omitempty"`

	// K is the maximum number of documents to return (>= 1)
	K int `json:"k,omitempty"`

	// Params carries strategy-specific overrides
	Params map[string]interface{} `json:"params,omitempty"`
}

// RetrievalResult is the ordered output of one retrieval call.
type RetrievalResult struct {
	// Documents are at most K results, rank-stamped 1..n
	Documents []Document `json:"documents"`

	// Strategy is the name of the strategy that produced the result
	Strategy string `json:"strategy"`

	// Query is the query the result answers
	Query string `json:"query"`

	// LatencyMs is the wall-clock retrieval time in milliseconds
	LatencyMs int64 `json:"latency_ms"`

	// CacheHit reports whether the result came from the retrieval cache
	CacheHit bool `json:"cache_hit"`
}

// RetrievalMetrics is emitted exactly once per completed retrieval call.
type RetrievalMetrics struct {
	Strategy   string `json:"strategy"`
	Query      string `json:"query"`
	NumResults int    `json:"num_results"`
	LatencyMs  int64  `json:"latency_ms"`
	TokenCount int    `json:"token_count"`
	CacheHit   bool   `json:"cache_hit"`
	Err        string `json:"error,omitempty"`
}

// StrategyInfo describes a strategy for catalogs and introspection.
type StrategyInfo struct {
	Strategy    string                 `json:"strategy"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// QueryAnalysis summarizes the query features behind a recommendation.
type QueryAnalysis struct {
	// Length is the whitespace-split word count
	Length int `json:"length"`

	// Type is one of: factual, conceptual, technical, general
	Type string `json:"type"`
}

// Recommendation is the factory's strategy advice for a query.
type Recommendation struct {
	Primary       string        `json:"primary"`
	Alternatives  []string      `json:"alternatives"`
	Reasoning     string        `json:"reasoning"`
	QueryAnalysis QueryAnalysis `json:"query_analysis"`
}

// EvalSample is one evaluation input: a question with its generated answer,
// the contexts the answer was built from, and an optional reference.
type EvalSample struct {
	Question    string   `json:"question"`
	Answer      string   `json:"answer,omitempty"`
	Contexts    []string `json:"contexts,omitempty"`
	GroundTruth string   `json:"ground_truth,omitempty"`
	Domain      string   `json:"domain,omitempty"`
}

// RAGASScores holds the four rubric metrics plus their unweighted mean,
// each in [0.0, 1.0].
type RAGASScores struct {
	AnswerRelevancy  float64 `json:"answer_relevancy"`
	ContextPrecision float64 `json:"context_precision"`
	ContextRecall    float64 `json:"context_recall"`
	Faithfulness     float64 `json:"faithfulness"`
	OverallScore     float64 `json:"overall_score"`
}

// Overall computes the unweighted mean of the four metrics.
func (s RAGASScores) Overall() float64 {
	return (s.AnswerRelevancy + s.ContextPrecision + s.ContextRecall + s.Faithfulness) / 4
}

// ScoredDocument pairs a document with a store-assigned relevance score.
type ScoredDocument struct {
	Document Document
	Score    float64
}
