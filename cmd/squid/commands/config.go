package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jholhewres/squid/pkg/squid/agent"
)

// newConfigCmd creates the `squid config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration and credentials",
		Long: `Manage Squid configuration and credentials.

Examples:
  squid config init
  squid config show
  squid config set-key`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(_ *cobra.Command, _ []string) error {
			path := agent.DefaultConfigPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := agent.SaveConfigToFile(agent.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Printf("Config written to %s\n", path)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Printf("name:      %s\n", cfg.Name)
			fmt.Printf("model:     %s @ %s\n", cfg.API.Model, cfg.API.BaseURL)
			fmt.Printf("workspace: %s\n", cfg.Workspace.Root)
			fmt.Printf("database:  %s\n", cfg.Database.Path)
			fmt.Printf("webui:     enabled=%v %s:%d\n", cfg.WebUI.Enabled, cfg.WebUI.Host, cfg.WebUI.Port)
			fmt.Printf("allow:     %v\n", cfg.Permissions.Allow)
			fmt.Printf("deny:      %v\n", cfg.Permissions.Deny)
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the provider API key in the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := agent.ReadPassword("API key: ")
			if err != nil {
				return err
			}
			if key == "" {
				return fmt.Errorf("empty key")
			}
			return agent.MigrateKeyToKeyring(key, newLogger(cmd))
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key",
		Short: "Remove the provider API key from the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := agent.DeleteKeyring("api_key"); err != nil {
				return fmt.Errorf("delete key: %w", err)
			}
			fmt.Println("API key removed from keyring.")
			return nil
		},
	}
}
