package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/mapview/internal/errors"
	"github.com/Aman-CERP/mapview/internal/logging"
	"github.com/Aman-CERP/mapview/internal/mcp"
	"github.com/Aman-CERP/mapview/internal/metrics"
)

func newServeCmd() *cobra.Command {
	var (
		transport   string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve [dir]...",
		Short: "Serve the views to MCP clients, keeping the given directories synced",
		Long: `Serve starts an MCP server on stdio exposing the views read-only through
the list_views, get, list and index_status tools, and each view as a
view://<name> resource.

Directories given are synced and watched for as long as the server runs.
Stdout carries only protocol messages; logs go to ~/.mapview/logs/.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, args, transport, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport type (stdio)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (overrides server.metrics_addr)")

	return cmd
}

func runServe(ctx context.Context, dirs []string, transport, metricsAddr string) error {
	if transport != "stdio" {
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	// Stdout belongs to the protocol from here on.
	if !debugMode {
		cleanup, err := logging.SetupDefault(logging.ServeConfig(e.cfg.Server.LogLevel))
		if err != nil {
			return err
		}
		defer cleanup()
	}

	archives, err := e.openDirs(ctx, dirs, true)
	if err != nil {
		return err
	}
	if err := e.indexAll(ctx, archives, true); err != nil {
		// Views stay queryable with whatever was synced.
		slog.Error("initial sync failed", errors.LogAttrs(err)...)
	}

	srv, err := mcp.NewServer(e.db)
	if err != nil {
		return err
	}
	if err := srv.RegisterResources(ctx); err != nil {
		return err
	}

	if metricsAddr == "" {
		metricsAddr = e.cfg.Server.MetricsAddr
	}

	// The metrics endpoint lives as long as the MCP session.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if metricsAddr != "" {
		g.Go(func() error { return metrics.Serve(gctx, metricsAddr) })
	}
	g.Go(func() error {
		defer cancel()
		err := srv.Serve(gctx, transport)
		if stderrors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return g.Wait()
}
