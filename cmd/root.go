package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/siftlabs/sift/pkg/config"
	"github.com/siftlabs/sift/pkg/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sift",
	Short: "Sift - Multi-strategy retrieval engine with MCP and REST interfaces",
	Long: `Sift answers questions over an indexed corpus with six interchangeable
retrieval strategies (keyword BM25, vector, parent document, multi-query,
rerank, ensemble RRF) behind one pipeline that adds caching, metrics, and
reference-free quality evaluation.

It speaks MCP over stdio or streamable HTTP for agent clients, and a
small JSON API for everything else.

Environment Variables:
  ANTHROPIC_API_KEY   LLM-backed strategies, synthesis, and evaluation
  OPENAI_API_KEY      Embeddings (and chat when llm.provider is openai)
  REDIS_URL           Redis retrieval cache
  SIFT_*              Any config key, e.g. SIFT_VECTOR_BACKEND=memory`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sift.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")

	// Bind to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sift")
	}

	// Read environment variables: SIFT_SERVER_PORT=9090 maps to server.port
	viper.SetEnvPrefix("SIFT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadConfig materializes the validated configuration and points the
// global logger at its settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}
