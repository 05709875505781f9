package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/siftlabs/sift/pkg/logging"
	"github.com/siftlabs/sift/pkg/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start Sift as an MCP server",
	Long: `Starts Sift as a Model Context Protocol (MCP) server.

This lets AI assistants like Claude, Amp, and Cursor run research
workflows, compare retrieval strategies, and read raw retrieval results
directly.

Transports:
  stdio (default) - For local desktop apps (Claude Desktop, Cursor)
  http            - For remote/cloud deployments (hosted MCP server)

Tools exposed (commands, may mutate state):
  research_deep    - Full research workflow: retrieve, synthesize, evaluate
  evaluate_rag     - Score a strategy against the golden dataset
  strategy_compare - Run all strategies side by side on one question

Resources exposed (queries, fast reads):
  retriever://{strategy}/{query} - Raw retrieval, no synthesis
  strategies://info              - Strategy catalog and guidance
  collection://{name}/stats      - Vector and document store stats
  cache://stats                  - Cache hit rates and usage
  metrics://{strategy}           - Per-strategy performance counters

Example:
  # Local stdio server (Claude Desktop, Cursor, Amp)
  sift mcp

  # Remote HTTP server (hosted deployment)
  sift mcp --transport http --port 8081

  # Probe component health without serving
  sift mcp --health-check

Configure in Claude Desktop (claude_desktop_config.json):
  {
    "mcpServers": {
      "sift": {
        "command": "sift",
        "args": ["mcp"]
      }
    }
  }

For remote MCP server:
  {
    "mcpServers": {
      "sift": {
        "url": "https://your-server.fly.dev/mcp"
      }
    }
  }`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	// Transport settings
	mcpCmd.Flags().String("transport", "stdio", "Transport type: stdio or http")
	mcpCmd.Flags().Int("port", 8081, "HTTP server port (for http transport)")
	mcpCmd.Flags().String("host", "0.0.0.0", "HTTP server host (for http transport)")

	// Diagnostics
	mcpCmd.Flags().Bool("health-check", false, "Print component health as JSON and exit")
	mcpCmd.Flags().Bool("server-info", false, "Print server capabilities as JSON and exit")
}

func runMCP(cmd *cobra.Command, args []string) error {
	// Bind at run time: serve shares these keys with different defaults.
	_ = viper.BindPFlag("server.transport", cmd.Flags().Lookup("transport"))
	_ = viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))

	healthCheck, _ := cmd.Flags().GetBool("health-check")
	serverInfo, _ := cmd.Flags().GetBool("server-info")

	ctx := context.Background()

	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	srv := mcpserver.New(mcpserver.Options{
		Factory:  app.factory,
		Research: app.research,
		Harness:  app.harness,
		Docs:     app.docs,
		Vectors:  app.vectors,
		Cache:    app.kv,
		Metrics:  app.metrics,
		Config:   app.cfg,
		Logger:   logging.WithComponent("mcp"),
		Version:  version,
	})

	if serverInfo {
		out, err := json.MarshalIndent(srv.Info(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if healthCheck {
		health := srv.Health(ctx)
		out, err := json.MarshalIndent(health, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		if health.Status == "unhealthy" {
			return fmt.Errorf("health check failed: status is %s", health.Status)
		}
		return nil
	}

	switch app.cfg.Server.Transport {
	case "stdio":
		// stdout carries the protocol; all diagnostics go to stderr.
		if err := srv.ServeStdio(); err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}

	case "http":
		addr := fmt.Sprintf("%s:%d", app.cfg.Server.Host, app.cfg.Server.Port)
		fmt.Printf("Sift MCP server starting on http://%s\n", addr)
		fmt.Printf("  Endpoint: http://%s/mcp\n", addr)
		fmt.Printf("  Health:   http://%s/health\n", addr)
		if app.metrics != nil {
			fmt.Printf("  Metrics:  http://%s%s\n", addr, app.cfg.Metrics.Path)
		}
		fmt.Println()

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := srv.ServeHTTP(ctx, addr); err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}

	default:
		return fmt.Errorf("unsupported transport: %s (use 'stdio' or 'http')", app.cfg.Server.Transport)
	}

	return nil
}
