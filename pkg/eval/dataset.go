// Package eval scores retrieval quality with RAGAS-style metrics: four
// LLM-judged rubrics over (question, answer, contexts) plus a batch
// harness that drives a retrieval strategy over a golden dataset.
package eval

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/siftlabs/sift/pkg/types"
)

// Load reads a golden dataset from a JSONL file, one sample per line:
// {"question": …, "ground_truth": …, "domain": …}. Blank lines are
// skipped. A positive limit caps the number of samples read.
func Load(path string, limit int) ([]types.EvalSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("eval: open dataset: %w", err)
	}
	defer f.Close()

	var samples []types.EvalSample
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var sample types.EvalSample
		if err := json.Unmarshal([]byte(text), &sample); err != nil {
			return nil, fmt.Errorf("eval: dataset line %d: %w", line, err)
		}
		if sample.Question == "" {
			return nil, fmt.Errorf("eval: dataset line %d: missing question", line)
		}
		samples = append(samples, sample)

		if limit > 0 && len(samples) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("eval: read dataset: %w", err)
	}
	return samples, nil
}

// DefaultDataset returns the built-in golden dataset: twenty questions
// with reference answers spanning the domains the server is typically
// asked about. A positive limit returns a prefix.
func DefaultDataset(limit int) []types.EvalSample {
	samples := []types.EvalSample{
		{
			Question:    "What is the difference between BM25 and vector search?",
			GroundTruth: "BM25 is a keyword-based sparse retrieval method that uses term frequency and inverse document frequency for exact matching, while vector search uses dense embeddings to find semantically similar content through vector similarity calculations.",
			Domain:      "rag",
		},
		{
			Question:    "How does parent document retrieval preserve context?",
			GroundTruth: "Parent document retrieval splits documents into small chunks for accurate matching but returns larger parent documents to preserve the full context around the matched content, ensuring comprehensive information is available.",
			Domain:      "rag",
		},
		{
			Question:    "What are the benefits of ensemble retrieval?",
			GroundTruth: "Ensemble retrieval combines multiple strategies using techniques like Reciprocal Rank Fusion to achieve better overall performance, leveraging the strengths of different approaches while mitigating individual weaknesses.",
			Domain:      "rag",
		},
		{
			Question:    "How does multi-query expansion improve recall?",
			GroundTruth: "Multi-query expansion generates multiple query variations to capture different perspectives and phrasings, improving recall by retrieving documents that might be missed with a single query formulation.",
			Domain:      "rag",
		},
		{
			Question:    "What is the role of reranking in retrieval?",
			GroundTruth: "Reranking uses language models to re-order initially retrieved documents based on relevance to the query, improving precision by better understanding the semantic relationship between queries and documents.",
			Domain:      "rag",
		},
		{
			Question:    "How does Reciprocal Rank Fusion work?",
			GroundTruth: "Reciprocal Rank Fusion combines rankings from multiple retrieval methods by assigning each document a score of 1/(rank + constant) in every list it appears in, summing the scores across methods, and reordering by total score.",
			Domain:      "rag",
		},
		{
			Question:    "What is the role of embeddings in vector search?",
			GroundTruth: "Embeddings convert text into dense numerical vectors that capture semantic meaning, enabling similarity calculations in high-dimensional space to find conceptually related content even when exact keywords don't match.",
			Domain:      "vector",
		},
		{
			Question:    "How does cosine similarity rank search results?",
			GroundTruth: "Cosine similarity measures the angle between two embedding vectors; scores near 1 indicate semantically similar content, and results are ordered by descending similarity to the query vector.",
			Domain:      "vector",
		},
		{
			Question:    "Why are vector indexes approximate rather than exact?",
			GroundTruth: "Exhaustive nearest-neighbor search is linear in corpus size, so vector databases use approximate indexes such as HNSW that trade a small amount of recall for sublinear query time.",
			Domain:      "vector",
		},
		{
			Question:    "What does a score threshold do in similarity search?",
			GroundTruth: "A score threshold drops results whose similarity to the query falls below a floor, trading recall for precision so that weak matches never reach the caller.",
			Domain:      "vector",
		},
		{
			Question:    "What is the difference between MCP tools and resources?",
			GroundTruth: "MCP tools implement the command pattern for state-changing operations with full processing, while resources implement the query pattern for fast, read-only data access, which keeps the read path several times faster than the tool path.",
			Domain:      "mcp",
		},
		{
			Question:    "What transports does an MCP server support?",
			GroundTruth: "MCP servers speak line-delimited JSON-RPC over stdio for local clients and streaming HTTP for remote clients; both expose the same tools and resources.",
			Domain:      "mcp",
		},
		{
			Question:    "How does the CQRS pattern apply to MCP servers?",
			GroundTruth: "CQRS separates commands from queries: MCP tools carry the write-and-workflow side with full pipelines, while MCP resources carry the read side with fast raw lookups, so each path can be optimized independently.",
			Domain:      "mcp",
		},
		{
			Question:    "How do MCP clients discover server capabilities?",
			GroundTruth: "During initialization the client and server exchange capability descriptors listing available tools, resources, and protocol features, so clients can adapt to what the server offers.",
			Domain:      "mcp",
		},
		{
			Question:    "How does a worker pool bound concurrency in Go?",
			GroundTruth: "A worker pool starts a fixed number of goroutines that consume jobs from a shared channel, bounding parallelism and memory regardless of how many jobs are queued.",
			Domain:      "golang",
		},
		{
			Question:    "What is context cancellation used for in Go services?",
			GroundTruth: "A context carries deadlines and cancellation signals across API boundaries; when a caller cancels, every downstream operation observing the context stops early and releases its resources.",
			Domain:      "golang",
		},
		{
			Question:    "When should a Go API return an interface versus a struct?",
			GroundTruth: "Go code conventionally accepts interfaces and returns concrete structs, letting callers depend on small behavioral contracts while implementations stay inspectable and extendable.",
			Domain:      "golang",
		},
		{
			Question:    "How do errgroups propagate failures across goroutines?",
			GroundTruth: "An errgroup runs goroutines under a shared context; the first non-nil error cancels the group context and is returned from Wait, so sibling goroutines can stop early.",
			Domain:      "golang",
		},
		{
			Question:    "How do RAGAS metrics evaluate RAG systems?",
			GroundTruth: "RAGAS provides reference-free evaluation through four metrics: answer relevancy (how well answers address questions), context precision (relevance of retrieved documents), context recall (completeness of retrieval), and faithfulness (accuracy without hallucination).",
			Domain:      "eval",
		},
		{
			Question:    "How do you evaluate retrieval quality without ground truth?",
			GroundTruth: "Reference-free evaluation uses techniques like RAGAS that assess answer relevancy, context precision via relevance scoring, and faithfulness by checking answer support in retrieved documents, all without requiring ground truth annotations.",
			Domain:      "eval",
		},
	}

	if limit > 0 && limit < len(samples) {
		return samples[:limit]
	}
	return samples
}
