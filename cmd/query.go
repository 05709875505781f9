package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/siftlabs/sift/pkg/retriever"
	"github.com/siftlabs/sift/pkg/types"
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Run a one-shot retrieval against the configured stores",
	Long: `Retrieves documents for a query with any strategy and displays the
results. Useful for testing strategies and tuning retrieval parameters.

Example:
  sift query "How do I configure authentication?" --strategy ensemble

Strategies needing embeddings require OPENAI_API_KEY; multi_query and
rerank additionally require an LLM key (ANTHROPIC_API_KEY).`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	// Retrieval settings
	queryCmd.Flags().StringP("strategy", "s", retriever.StrategyAuto, "Retrieval strategy (or 'auto')")
	queryCmd.Flags().IntP("k", "k", 5, "Number of documents to return")

	// Output settings
	queryCmd.Flags().Bool("json", false, "Print the raw result as JSON")
	queryCmd.Flags().Bool("show-metadata", false, "Show document metadata")
	queryCmd.Flags().Bool("show-stats", true, "Show retrieval statistics")
	queryCmd.Flags().Int("text-limit", 200, "Max characters of content to show per document")
}

func runQuery(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	// Get flags
	strategy, _ := cmd.Flags().GetString("strategy")
	k, _ := cmd.Flags().GetInt("k")
	asJSON, _ := cmd.Flags().GetBool("json")
	showMetadata, _ := cmd.Flags().GetBool("show-metadata")
	showStats, _ := cmd.Flags().GetBool("show-stats")
	textLimit, _ := cmd.Flags().GetInt("text-limit")

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nCancelled")
		cancel()
	}()

	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	var pipe *retriever.Pipeline
	if strategy == retriever.StrategyAuto {
		pipe, err = app.factory.CreateAuto(query)
	} else {
		pipe, err = app.factory.Create(strategy)
	}
	if err != nil {
		return fmt.Errorf("failed to create retriever: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Query: %s\n", query)
	fmt.Fprintf(os.Stderr, "Retrieving...\n")

	result, err := pipe.Retrieve(ctx, query, k)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	if asJSON {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Fprintln(os.Stderr)

	// Display results
	if len(result.Documents) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("=== Results (%d documents) ===\n\n", len(result.Documents))

	for i, doc := range result.Documents {
		fmt.Printf("[%d] ID: %s\n", i+1, doc.ID)
		if key, score, ok := docScore(doc); ok {
			fmt.Printf("    %s: %.4f\n", key, score)
		}

		if doc.Content != "" {
			text := doc.Content
			if textLimit > 0 && len(text) > textLimit {
				text = text[:textLimit] + "..."
			}
			// Clean up whitespace
			text = strings.ReplaceAll(text, "\n", " ")
			text = strings.Join(strings.Fields(text), " ")
			fmt.Printf("    Text: %s\n", text)
		}

		if showMetadata && len(doc.Metadata) > 0 {
			fmt.Printf("    Metadata: %v\n", doc.Metadata)
		}

		fmt.Println()
	}

	// Display stats
	if showStats {
		fmt.Println("=== Statistics ===")
		fmt.Printf("Strategy:     %s\n", result.Strategy)
		fmt.Printf("Returned:     %d documents\n", len(result.Documents))
		fmt.Printf("Latency:      %dms\n", result.LatencyMs)
		fmt.Printf("Cache hit:    %v\n", result.CacheHit)
	}

	return nil
}

// docScore finds the first score a strategy attached to the document.
func docScore(doc types.Document) (string, float64, bool) {
	keys := []string{
		types.MetaRerankScore,
		types.MetaRRFScore,
		types.MetaSimilarityScore,
		types.MetaBM25Score,
	}
	for _, key := range keys {
		v, ok := doc.Metadata[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return key, n, true
		case float32:
			return key, float64(n), true
		case int:
			return key, float64(n), true
		}
	}
	return "", 0, false
}
