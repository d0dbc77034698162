// Package main provides the CLI entry point for the Aria multi-agent
// orchestration runtime.
//
// Aria coordinates a pool of LLM-backed agents through single-agent chat
// turns, Roundtable discussions, and Swarm voting, persisting every
// session and scoring agents by a time-decayed pheromone trail.
//
// # Basic Usage
//
// Start the server:
//
//	ariad serve --config aria.yaml
//
// Check configuration validity without starting the server:
//
//	ariad config check --config aria.yaml
//
// # Environment Variables
//
//   - DATABASE_URL: Postgres connection string for the session store
//   - LITELLM_BASE_URL / LITELLM_MASTER_KEY: LLM gateway proxy credentials
//   - ARIA_API_KEY / ARIA_ADMIN_KEY: static API keys (dev mode if unset)
//   - ARIA_JWT_SECRET: optional JWT signing secret for the admin surface
//   - ARIA_HTTP_PORT: overrides server.http_port
//   - AGENT_CONTEXT_LIMIT: in-memory agent context bound (default 8)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "ariad",
		Short:        "Aria - multi-agent LLM orchestration runtime",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildConfigCmd())
	return rootCmd
}
