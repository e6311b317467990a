// Package commands implements the Squid CLI commands using cobra.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jholhewres/squid/pkg/squid/agent"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "squid",
		Short: "Squid - a mediated coding agent",
		Long: `Squid is a coding agent whose every tool call passes through a policy
engine: safe calls run automatically, dangerous ones are blocked outright,
and everything in between waits for your approval.

Examples:
  squid chat "add a retry to the fetcher"
  squid serve
  squid config set-key`,
		Version: version,
	}

	rootCmd.AddCommand(
		newChatCmd(),
		newServeCmd(),
		newConfigCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// newLogger builds the process logger from the verbose flag.
func newLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// resolveConfig loads config from the --config flag or the default path,
// falling back to defaults when no file exists.
func resolveConfig(cmd *cobra.Command) (*agent.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath != "" {
		return agent.LoadConfigFromFile(configPath)
	}

	defaultPath := agent.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		return agent.LoadConfigFromFile(defaultPath)
	}
	return agent.DefaultConfig(), nil
}

// runtime bundles the wired components shared by serve and chat.
type runtime struct {
	cfg      *agent.Config
	orch     *agent.Orchestrator
	store    *agent.LedgerStore
	audit    *agent.AuditLogger
	logger   *slog.Logger
	shutdown func()
}

// buildRuntime loads configuration, opens the database, and wires the
// mediation pipeline.
func buildRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd)
	agent.ResolveAPIKey(cfg, logger)

	db, err := agent.OpenDatabase(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := agent.NewLedgerStore(db, logger)
	audit := agent.NewAuditLogger(db, logger)

	ignore, err := agent.LoadIgnoreList(cfg.Workspace.Root)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load %s: %w", agent.IgnoreFileName, err)
	}

	provider := agent.NewOpenAIProvider(cfg.API.BaseURL, cfg.API.APIKey, cfg.API.Model, logger)
	orch := agent.NewOrchestrator(
		provider,
		agent.NewPolicyEngine(cfg.Workspace.Root, ignore, logger),
		agent.NewApprovalBroker(logger),
		agent.NewToolExecutor(cfg.Workspace.Root, logger),
		store,
		audit,
		agent.NewSessionManager(cfg.Permissions, store, logger),
		logger,
	)

	return &runtime{
		cfg:      cfg,
		orch:     orch,
		store:    store,
		audit:    audit,
		logger:   logger,
		shutdown: func() { db.Close() },
	}, nil
}
