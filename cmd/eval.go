package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/siftlabs/sift/pkg/eval"
	"github.com/siftlabs/sift/pkg/retriever"
	"github.com/siftlabs/sift/pkg/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate retrieval quality against a golden dataset",
	Long: `Runs a retrieval strategy over a golden question set and scores the
results with an LLM judge: answer relevancy, context precision,
context recall, and faithfulness, aggregated into an overall score.

Each sample retrieves contexts, synthesizes an answer from them, and
scores the triple. The dataset comes from eval.dataset_path in the
config (JSONL {question, reference, domain?}) or the built-in golden
set when eval.allow_default_dataset is on.

Example:
  sift eval --strategy ensemble --samples 10
  sift eval --strategy vector --samples 5 --format detailed
  sift eval --dataset golden.jsonl --format json > run.json

Environment Variables:
  ANTHROPIC_API_KEY    LLM judge key (or OPENAI_API_KEY)
  OPENAI_API_KEY       Embedding provider key`,
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringP("strategy", "s", retriever.StrategyEnsemble, "retrieval strategy to evaluate")
	evalCmd.Flags().IntP("samples", "n", 10, "samples to evaluate (0 = whole dataset)")
	evalCmd.Flags().IntP("k", "k", 5, "contexts retrieved per question")
	evalCmd.Flags().StringP("dataset", "d", "", "path to a JSONL golden dataset (overrides config)")
	evalCmd.Flags().String("format", "summary", "output format: summary, detailed, or json")
}

func runEval(cmd *cobra.Command, args []string) error {
	strategy, _ := cmd.Flags().GetString("strategy")
	numSamples, _ := cmd.Flags().GetInt("samples")
	k, _ := cmd.Flags().GetInt("k")
	format, _ := cmd.Flags().GetString("format")

	switch format {
	case "summary", "detailed", "json":
	default:
		return fmt.Errorf("unsupported format: %s (use 'summary', 'detailed' or 'json')", format)
	}

	// Bind at run time: the flag overrides the config file path only
	// when this command executes.
	_ = viper.BindPFlag("eval.dataset_path", cmd.Flags().Lookup("dataset"))

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

	if app.harness == nil {
		return fmt.Errorf("evaluation requires an LLM API key: set ANTHROPIC_API_KEY or OPENAI_API_KEY")
	}

	samples, err := app.evalSamples(numSamples)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Println("No samples in dataset.")
		return nil
	}

	pipe, err := app.factory.Create(strategy)
	if err != nil {
		return fmt.Errorf("failed to create retriever: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Evaluating %q over %d samples...\n", strategy, len(samples))

	app.harness.K = k
	app.harness.Progress = func(done, total int, outcome eval.SampleOutcome) {
		if outcome.Err != "" {
			fmt.Fprintf(os.Stderr, "  [%d/%d] failed: %s\n", done, total, outcome.Err)
			return
		}
		fmt.Fprintf(os.Stderr, "  [%d/%d] overall=%.3f\n", done, total, outcome.Scores.OverallScore)
	}

	run := app.harness.Run(ctx, strategy, eval.RetrieverFunc(
		func(ctx context.Context, query string, k int) ([]types.Document, error) {
			res, err := pipe.Retrieve(ctx, query, k)
			if err != nil {
				return nil, err
			}
			return res.Documents, nil
		}), samples)

	fmt.Fprintln(os.Stderr)

	switch format {
	case "json":
		out, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		fmt.Println(string(out))
	case "detailed":
		fmt.Println(eval.FormatDetailed(run))
	default:
		fmt.Println(eval.FormatSummary(run))
	}

	if run.Succeeded == 0 {
		return fmt.Errorf("no samples succeeded")
	}

	return nil
}
