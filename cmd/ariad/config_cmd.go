package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/config"
)

// buildConfigCmd wires "ariad config check", a dry-run validator that
// loads and validates a config file without connecting to Postgres or any
// LLM provider, useful in CI and before a rollout.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(buildConfigCheckCmd())
	return cmd
}

func buildConfigCheckCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a configuration file without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config OK: %d agent(s) configured, http_port=%d\n", len(cfg.Agents), cfg.Server.HTTPPort)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}
