package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerio-dev/nerio/pkg/nerio/agent"
)

// newServeCmd creates the `nerio serve` command that starts the agent.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the agent and connect to the orchestrator",
		Long: `Start Nerio as a long-running agent: connect to the orchestrator,
serve inbound commands and requests, and deliver results back.

Examples:
  nerio serve
  nerio serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// ── Configure logger ──
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}

	// Recent logs stay queryable over the channel.
	logs := agent.NewLogBuffer(handler, agent.DefaultLogCapacity)
	logger := slog.New(logs)

	// ── Resolve secrets ──
	agent.ResolveSecrets(cfg, logger)

	// ── Create and start the agent ──
	a, err := agent.New(cfg, configPath, logs, logger)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	logger.Info("Nerio running. Press Ctrl+C to stop.",
		"instance_id", cfg.InstanceID,
		"name", cfg.Name,
		"hub", cfg.Hub.URL,
	)

	// ── Wait for shutdown ──
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		cancel()
		a.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// resolveConfig loads config from the explicit flag or standard locations.
func resolveConfig(cmd *cobra.Command) (*agent.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := agent.LoadConfig(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		return cfg, configPath, nil
	}

	if found := agent.FindConfigFile(); found != "" {
		cfg, err := agent.LoadConfig(found)
		if err != nil {
			return nil, "", fmt.Errorf("loading config from %s: %w", found, err)
		}
		slog.Info("config loaded", "path", found)
		return cfg, found, nil
	}

	// No config file: defaults plus environment are enough for a first run.
	slog.Info("no config file found, using defaults",
		"hint", "run 'nerio config init' to create one")
	return agent.DefaultConfig(), "", nil
}
