package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerio-dev/nerio/pkg/nerio/agent"
)

// newConfigCmd creates the `nerio config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the agent configuration",
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigSetKeyCmd(),
		newConfigShowCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Root().PersistentFlags().GetString("config")
			if path == "" {
				path = "config.yaml"
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}

			if err := agent.SaveConfig(agent.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
}

// newConfigSetKeyCmd stores API keys in the OS keyring so they never sit in
// plaintext on disk.
func newConfigSetKeyCmd() *cobra.Command {
	var hub bool

	cmd := &cobra.Command{
		Use:   "set-key",
		Short: "Store an API key in the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			if !agent.KeyringAvailable() {
				return fmt.Errorf("OS keyring is not available; set the key via environment variable instead")
			}

			which := "model"
			if hub {
				which = "hub"
			}
			fmt.Printf("Enter %s API key: ", which)

			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("reading key: %w", err)
			}
			key := strings.TrimSpace(line)
			if key == "" {
				return fmt.Errorf("empty key")
			}

			name := "api_key"
			if hub {
				name = "hub_api_key"
			}
			if err := agent.StoreKeyring(name, key); err != nil {
				return fmt.Errorf("storing in keyring: %w", err)
			}
			fmt.Println("Key stored in OS keyring.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&hub, "hub", false, "store the hub API key instead of the model API key")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if path == "" {
				path = "(defaults)"
			}

			fmt.Printf("config:      %s\n", path)
			fmt.Printf("instance_id: %s\n", cfg.InstanceID)
			fmt.Printf("name:        %s\n", cfg.Name)
			fmt.Printf("hub url:     %s\n", cfg.Hub.URL)
			fmt.Printf("model:       %s\n", cfg.LLM.Model)
			fmt.Printf("max tokens:  %d\n", cfg.Chat.MaxTokens)
			fmt.Printf("db path:     %s\n", cfg.Storage.Path)
			return nil
		},
	}
}
