package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/siftlabs/sift/pkg/dedup"
	"github.com/siftlabs/sift/pkg/ingest"
	"github.com/siftlabs/sift/pkg/logging"
	"github.com/siftlabs/sift/pkg/retriever"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest JSONL documents into the document and vector stores",
	Long: `Reads documents from a JSONL file and indexes them for retrieval:
full text goes to the document store for keyword search and parent
resolution, whole-document embeddings go to the vector store, and
parent/child chunks are indexed for the parent_doc strategy.

Each line is a JSON object:
  {"id": "doc-1", "content": "...", "metadata": {"source": "..."}}

id and metadata are optional. Lines without content are counted as
malformed and skipped rather than aborting the load.

Example:
  sift ingest --file docs.jsonl
  sift ingest --file docs.jsonl --collection handbook --clean
  sift ingest --file docs.jsonl --dedup --threshold 0.03

Environment Variables:
  OPENAI_API_KEY    Embedding provider key (required)`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	// File input
	ingestCmd.Flags().StringP("file", "f", "", "path to JSONL file containing documents (required)")
	_ = ingestCmd.MarkFlagRequired("file")

	// Indexing settings
	ingestCmd.Flags().StringP("collection", "c", "", "vector collection (defaults to the configured collection)")
	ingestCmd.Flags().Bool("clean", false, "normalize content before indexing")
	ingestCmd.Flags().Bool("no-chunks", false, "skip parent/child chunk indexing")

	// Deduplication settings
	ingestCmd.Flags().Bool("dedup", false, "suppress near-duplicate documents before upsert")
	ingestCmd.Flags().Float64P("threshold", "t", 0.05, "cosine distance threshold for duplicates")
	ingestCmd.Flags().IntP("clusters", "k", 0, "number of clusters (0 = auto)")

	// Performance settings
	ingestCmd.Flags().IntP("workers", "w", 0, "concurrent upsert batches (0 = NumCPU*2)")
	ingestCmd.Flags().IntP("batch-size", "b", 100, "documents per embed and upsert batch")
}

func runIngest(cmd *cobra.Command, args []string) error {
	// Get flags
	filePath, _ := cmd.Flags().GetString("file")
	collection, _ := cmd.Flags().GetString("collection")
	clean, _ := cmd.Flags().GetBool("clean")
	noChunks, _ := cmd.Flags().GetBool("no-chunks")
	dedupEnabled, _ := cmd.Flags().GetBool("dedup")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	clusters, _ := cmd.Flags().GetInt("clusters")
	workers, _ := cmd.Flags().GetInt("workers")
	batchSize, _ := cmd.Flags().GetInt("batch-size")

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
		cancel()
	}()

	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	if app.embedder == nil {
		return fmt.Errorf("ingestion requires an embedding API key: set OPENAI_API_KEY")
	}

	if collection == "" {
		collection = app.cfg.Vector.Collection
	}

	ingestCfg := ingest.DefaultConfig(collection)
	if batchSize > 0 {
		ingestCfg.BatchSize = batchSize
	}
	if workers > 0 {
		ingestCfg.Workers = workers
	}
	ingestCfg.Clean = clean

	deps := ingest.Dependencies{
		Docs:     app.docs,
		Store:    app.vectors,
		Embedder: app.embedder,
		Logger:   logging.WithComponent("ingest"),
	}
	if dedupEnabled {
		deps.Dedup = dedup.NewEngine(dedup.Config{
			Threshold: threshold,
			Clusters:  clusters,
			Workers:   workers,
		}, logging.WithComponent("dedup"))
	}
	if !noChunks {
		// The parent_doc retriever owns the child chunk index; routing
		// documents through it keeps CLI loads and query-time parent
		// resolution on the same index.
		if r, err := app.factory.Strategy(retriever.StrategyParentDoc); err == nil {
			if indexer, ok := r.(ingest.ChunkIndexer); ok {
				deps.Chunks = indexer
			}
		}
	}

	pipeline, err := ingest.New(deps, ingestCfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Ingesting %s into %q...\n", filePath, collection)

	// Create progress bar. Total is unknown until the read pass lands,
	// so it starts as a spinner.
	bar := progressbar.NewOptions64(
		-1,
		progressbar.OptionSetDescription("Reading"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)

	// One bar across the embed, upsert and chunk-index phases. Dedup can
	// shrink the upsert set, so each phase resets the max to its live
	// target.
	progressFn := func(stats ingest.Stats) {
		switch {
		case stats.IndexedDocuments > 0:
			bar.Describe("Indexing chunks")
			bar.ChangeMax64(stats.TotalDocuments)
			_ = bar.Set64(stats.IndexedDocuments)
		case stats.UpsertedVectors+stats.FailedVectors > 0:
			bar.Describe("Upserting")
			bar.ChangeMax64(stats.TotalDocuments - stats.DuplicatesRemoved)
			_ = bar.Set64(stats.UpsertedVectors + stats.FailedVectors)
		default:
			bar.Describe("Embedding")
			bar.ChangeMax64(stats.TotalDocuments)
			_ = bar.Set64(stats.EmbeddedVectors)
		}
	}

	stats, err := pipeline.IngestFile(ctx, filePath, progressFn)
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	printIngestSummary(stats, collection)

	if stats.FailedVectors > 0 {
		return fmt.Errorf("%d vectors failed to upsert", stats.FailedVectors)
	}

	return nil
}

func printIngestSummary(stats *ingest.Stats, collection string) {
	fmt.Println()
	fmt.Println("=== Ingestion Complete ===")
	fmt.Println()
	fmt.Printf("Documents read:      %d\n", stats.TotalDocuments)
	if stats.MalformedLines > 0 {
		fmt.Printf("Malformed lines:     %d\n", stats.MalformedLines)
	}
	if stats.CleanedBytes > 0 {
		fmt.Printf("Bytes cleaned:       %d\n", stats.CleanedBytes)
	}
	fmt.Printf("Vectors embedded:    %d\n", stats.EmbeddedVectors)
	if stats.DuplicatesRemoved > 0 {
		fmt.Printf("Duplicates removed:  %d\n", stats.DuplicatesRemoved)
	}
	fmt.Printf("Vectors upserted:    %d\n", stats.UpsertedVectors)
	fmt.Printf("Vectors failed:      %d\n", stats.FailedVectors)
	fmt.Printf("Batches processed:   %d\n", stats.BatchesProcessed)
	if stats.IndexedDocuments > 0 {
		fmt.Printf("Chunked documents:   %d\n", stats.IndexedDocuments)
	}
	fmt.Printf("Collection:          %s\n", collection)
	fmt.Printf("Duration:            %v\n", stats.Duration().Round(time.Millisecond))
	fmt.Printf("Throughput:          %.0f vectors/sec\n", stats.VectorsPerSecond())
	fmt.Println()
}
