// Package commands implements the Nerio CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nerio",
		Short: "Nerio - self-hosted assistant agent",
		Long: `Nerio is a self-hosted AI assistant agent. It connects to its
orchestrator over a persistent channel, executes inbound commands and chat
turns against a local conversation store, and delivers results back with
retry.

Examples:
  nerio serve
  nerio serve --config ./config.yaml
  nerio config set-key`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newConfigCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
