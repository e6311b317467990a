package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/squid/pkg/squid/agent"
	"github.com/jholhewres/squid/pkg/squid/webui"
)

// newServeCmd creates the `squid serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway daemon",
		Long: `Start Squid as a daemon serving the chat gateway over HTTP/SSE.
Retention pruning runs on its configured schedule while the daemon is up.

Examples:
  squid serve
  squid serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := buildRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := webui.New(rt.cfg.WebUI, rt.orch, rt.store, rt.audit, rt.logger)
	if rt.cfg.WebUI.Enabled {
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("start gateway: %w", err)
		}
	} else {
		rt.logger.Warn("webui disabled in config; daemon will only run retention")
	}

	retention := agent.NewRetentionJob(rt.cfg.Retention, rt.store, rt.audit, rt.logger)
	if err := retention.Start(); err != nil {
		return fmt.Errorf("start retention: %w", err)
	}

	rt.logger.Info("squid running. Press Ctrl+C to stop.",
		"name", rt.cfg.Name,
		"model", rt.cfg.API.Model,
		"workspace", rt.cfg.Workspace.Root,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	rt.logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		retention.Stop()
		server.Stop()
		close(done)
	}()

	select {
	case <-done:
		rt.logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		rt.logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}
