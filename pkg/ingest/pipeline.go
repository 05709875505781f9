// Package ingest loads documents into the retrieval stores: the full
// text goes to the document store, embeddings of the full documents go
// to the main vector collection, and parent/child chunks go to the
// child collection through the hierarchical indexer. Near-duplicate
// vectors can be suppressed before upsert.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/siftlabs/sift/pkg/dedup"
	"github.com/siftlabs/sift/pkg/embedding"
	"github.com/siftlabs/sift/pkg/logging"
	"github.com/siftlabs/sift/pkg/types"
	"github.com/siftlabs/sift/pkg/vectorstore"
)

// DocumentStore persists full document text. Satisfied by
// docstore.Store.
type DocumentStore interface {
	Add(ctx context.Context, docs ...types.Document) []string
}

// ChunkIndexer builds a secondary index over ingested documents.
// Satisfied by the parent document retriever, which splits documents
// into parent/child chunks and embeds the children.
type ChunkIndexer interface {
	AddDocuments(ctx context.Context, docs []types.Document) error
}

// Config holds ingestion pipeline settings.
type Config struct {
	// Collection is the main vector collection for whole-document
	// embeddings.
	Collection string

	// BatchSize is the number of documents per embed and upsert batch.
	BatchSize int

	// Workers bounds concurrent upsert batches.
	Workers int

	// Clean normalizes document content before indexing: whitespace
	// collapse, filler phrase removal, punctuation spacing.
	Clean bool
}

// DefaultConfig returns sensible ingestion defaults.
func DefaultConfig(collection string) Config {
	return Config{
		Collection: collection,
		BatchSize:  100,
		Workers:    runtime.NumCPU() * 2,
	}
}

// Dependencies bundles the stores the pipeline writes to. Docs, Store
// and Embedder are required; Chunks and Dedup are optional stages.
type Dependencies struct {
	Docs     DocumentStore
	Store    vectorstore.Store
	Embedder embedding.Provider
	Chunks   ChunkIndexer
	Dedup    *dedup.Engine
	Logger   *slog.Logger
}

// Stats tracks pipeline counters. Fields are updated atomically while
// upsert workers run; read a consistent copy through Snapshot.
type Stats struct {
	TotalDocuments    int64
	MalformedLines    int64
	CleanedBytes      int64
	EmbeddedVectors   int64
	DuplicatesRemoved int64
	UpsertedVectors   int64
	FailedVectors     int64
	BatchesProcessed  int64
	IndexedDocuments  int64
	StartTime         time.Time
	EndTime           time.Time
}

// Duration returns the total processing duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// VectorsPerSecond returns upsert throughput.
func (s *Stats) VectorsPerSecond() float64 {
	d := s.Duration().Seconds()
	if d == 0 {
		return 0
	}
	return float64(s.UpsertedVectors) / d
}

// ProgressCallback receives a stats snapshot after each pipeline batch.
// It may be called from multiple goroutines.
type ProgressCallback func(stats Stats)

// Pipeline orchestrates document ingestion.
type Pipeline struct {
	cfg      Config
	docs     DocumentStore
	store    vectorstore.Store
	embedder embedding.Provider
	chunks   ChunkIndexer
	dedup    *dedup.Engine
	norm     *Normalizer
	logger   *slog.Logger
	stats    *Stats
}

// New creates an ingestion pipeline.
func New(deps Dependencies, cfg Config) (*Pipeline, error) {
	if deps.Docs == nil {
		return nil, fmt.Errorf("ingest: document store is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("ingest: vector store is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("ingest: embedder is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("ingest: collection is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU() * 2
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.WithComponent("ingest")
	}

	var norm *Normalizer
	if cfg.Clean {
		norm = NewNormalizer()
	}

	return &Pipeline{
		cfg:      cfg,
		docs:     deps.Docs,
		store:    deps.Store,
		embedder: deps.Embedder,
		chunks:   deps.Chunks,
		dedup:    deps.Dedup,
		norm:     norm,
		logger:   logger,
		stats:    &Stats{},
	}, nil
}

// IngestFile reads documents from a JSONL file and runs the pipeline.
func (p *Pipeline) IngestFile(ctx context.Context, path string, progress ProgressCallback) (*Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer f.Close()

	return p.IngestReader(ctx, f, progress)
}

// IngestReader parses JSONL documents from r and runs the pipeline.
func (p *Pipeline) IngestReader(ctx context.Context, r io.Reader, progress ProgressCallback) (*Stats, error) {
	p.stats = &Stats{StartTime: time.Now()}

	docs, err := p.readDocuments(ctx, r)
	if err != nil {
		return p.snapshotPtr(), err
	}
	return p.run(ctx, docs, progress)
}

// IngestDocuments runs the pipeline over pre-built documents: store,
// embed, optional dedup, upsert, chunk index.
func (p *Pipeline) IngestDocuments(ctx context.Context, docs []types.Document, progress ProgressCallback) (*Stats, error) {
	p.stats = &Stats{StartTime: time.Now()}
	return p.run(ctx, docs, progress)
}

func (p *Pipeline) run(ctx context.Context, docs []types.Document, progress ProgressCallback) (*Stats, error) {
	atomic.StoreInt64(&p.stats.TotalDocuments, int64(len(docs)))

	if len(docs) == 0 {
		p.stats.EndTime = time.Now()
		return p.snapshotPtr(), nil
	}

	if p.norm != nil {
		for i := range docs {
			cleaned := p.norm.Clean(docs[i].Content)
			atomic.AddInt64(&p.stats.CleanedBytes, int64(len(docs[i].Content)-len(cleaned)))
			docs[i].Content = cleaned
		}
	}

	// Store full text first so keyword search and parent resolution see
	// every document, then stamp assigned IDs back for the vector IDs.
	ids := p.docs.Add(ctx, docs...)
	for i := range docs {
		docs[i].ID = ids[i]
	}

	vectors, err := p.embedAll(ctx, docs, progress)
	if err != nil {
		p.stats.EndTime = time.Now()
		return p.snapshotPtr(), err
	}

	if p.dedup != nil && len(vectors) > 1 {
		result, err := p.dedup.Deduplicate(ctx, vectors)
		if err != nil {
			p.stats.EndTime = time.Now()
			return p.snapshotPtr(), fmt.Errorf("ingest: dedup failed: %w", err)
		}
		atomic.StoreInt64(&p.stats.DuplicatesRemoved, int64(result.DuplicateCount))
		vectors = result.UniqueVectors
		p.logger.Info("near-duplicate suppression",
			"processed", result.TotalProcessed,
			"duplicates", result.DuplicateCount,
			"clusters", result.ClusterCount,
			"savings_percent", result.SavingsPercent())
	}

	if err := p.upsertAll(ctx, vectors, progress); err != nil {
		p.stats.EndTime = time.Now()
		return p.snapshotPtr(), err
	}

	if p.chunks != nil {
		if err := p.indexChunks(ctx, docs, progress); err != nil {
			p.stats.EndTime = time.Now()
			return p.snapshotPtr(), err
		}
	}

	p.stats.EndTime = time.Now()
	stats := p.snapshotPtr()
	p.logger.Info("ingestion complete",
		"documents", stats.TotalDocuments,
		"upserted", stats.UpsertedVectors,
		"failed", stats.FailedVectors,
		"duplicates_removed", stats.DuplicatesRemoved,
		"duration", stats.Duration().Round(time.Millisecond))
	return stats, nil
}

// Snapshot returns a consistent copy of the running counters.
func (p *Pipeline) Snapshot() Stats {
	return Stats{
		TotalDocuments:    atomic.LoadInt64(&p.stats.TotalDocuments),
		MalformedLines:    atomic.LoadInt64(&p.stats.MalformedLines),
		CleanedBytes:      atomic.LoadInt64(&p.stats.CleanedBytes),
		EmbeddedVectors:   atomic.LoadInt64(&p.stats.EmbeddedVectors),
		DuplicatesRemoved: atomic.LoadInt64(&p.stats.DuplicatesRemoved),
		UpsertedVectors:   atomic.LoadInt64(&p.stats.UpsertedVectors),
		FailedVectors:     atomic.LoadInt64(&p.stats.FailedVectors),
		BatchesProcessed:  atomic.LoadInt64(&p.stats.BatchesProcessed),
		IndexedDocuments:  atomic.LoadInt64(&p.stats.IndexedDocuments),
		StartTime:         p.stats.StartTime,
		EndTime:           p.stats.EndTime,
	}
}

func (p *Pipeline) snapshotPtr() *Stats {
	s := p.Snapshot()
	return &s
}

// jsonDocument is the expected JSONL line shape.
type jsonDocument struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// readDocuments parses JSONL lines into documents. Malformed lines and
// lines without content are counted and skipped rather than aborting a
// bulk load.
func (p *Pipeline) readDocuments(ctx context.Context, r io.Reader) ([]types.Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var docs []types.Document
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var jd jsonDocument
		if err := json.Unmarshal(raw, &jd); err != nil {
			atomic.AddInt64(&p.stats.MalformedLines, 1)
			p.logger.Debug("skipping malformed line", "line", line, "error", err)
			continue
		}
		if jd.Content == "" {
			atomic.AddInt64(&p.stats.MalformedLines, 1)
			p.logger.Debug("skipping line without content", "line", line)
			continue
		}

		doc := types.Document{ID: jd.ID, Content: jd.Content, Metadata: jd.Metadata}
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]interface{})
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ingest: read documents: %w", err)
	}
	return docs, nil
}

// embedAll embeds document content in batches and flattens each
// document into an upsert-ready vector.
func (p *Pipeline) embedAll(ctx context.Context, docs []types.Document, progress ProgressCallback) ([]types.Vector, error) {
	vectors := make([]types.Vector, 0, len(docs))

	for start := 0; start < len(docs); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		texts := make([]string, len(batch))
		for i, doc := range batch {
			texts[i] = doc.Content
		}

		embeddings, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("ingest: embed batch at %d: %w", start, err)
		}

		for i, doc := range batch {
			vectors = append(vectors, vectorstore.VectorFromDocument(doc, embeddings[i]))
		}
		atomic.AddInt64(&p.stats.EmbeddedVectors, int64(len(batch)))
		if progress != nil {
			progress(p.Snapshot())
		}
	}
	return vectors, nil
}

// upsertAll writes vectors to the main collection with bounded
// concurrency. A failed batch is counted and logged, not fatal.
func (p *Pipeline) upsertAll(ctx context.Context, vectors []types.Vector, progress ProgressCallback) error {
	if len(vectors) == 0 {
		return nil
	}

	if err := p.store.EnsureCollection(ctx, p.cfg.Collection, p.embedder.Dimension()); err != nil {
		return fmt.Errorf("ingest: ensure collection: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for start := 0; start < len(vectors); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(vectors) {
			end = len(vectors)
		}
		batch := vectors[start:end]

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := p.store.Upsert(gctx, p.cfg.Collection, batch); err != nil {
				atomic.AddInt64(&p.stats.FailedVectors, int64(len(batch)))
				p.logger.Warn("batch upsert failed", "batch_size", len(batch), "error", err)
			} else {
				atomic.AddInt64(&p.stats.UpsertedVectors, int64(len(batch)))
			}
			atomic.AddInt64(&p.stats.BatchesProcessed, 1)
			if progress != nil {
				progress(p.Snapshot())
			}
			return nil
		})
	}
	return g.Wait()
}

// indexChunks feeds documents to the chunk indexer in batches so child
// chunk embedding stays within provider batch limits.
func (p *Pipeline) indexChunks(ctx context.Context, docs []types.Document, progress ProgressCallback) error {
	for start := 0; start < len(docs); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		if err := p.chunks.AddDocuments(ctx, batch); err != nil {
			return fmt.Errorf("ingest: index chunks at %d: %w", start, err)
		}
		atomic.AddInt64(&p.stats.IndexedDocuments, int64(len(batch)))
		if progress != nil {
			progress(p.Snapshot())
		}
	}
	return nil
}
