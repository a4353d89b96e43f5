package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mapview/internal/ui"
)

func newSyncCmd() *cobra.Command {
	var (
		watch bool
		plain bool
	)

	cmd := &cobra.Command{
		Use:   "sync <dir>...",
		Short: "Bring every view up to date with one or more directories",
		Long: `Sync maps every file changed since the last sync into the configured
views. The first sync of a directory maps all of its matching files.

With --watch the command keeps running and re-syncs whenever files change,
until interrupted.`,
		Example: `  # Sync two directories once
  mapview sync ./posts ./comments

  # Keep views live while editing
  mapview sync ./posts --watch`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Cancellation on Ctrl+C stops watches and in-flight passes.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSync(ctx, cmd, args, watch, plain)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep syncing as files change")
	cmd.Flags().BoolVar(&plain, "plain", false, "Plain line output instead of the interactive display")

	return cmd
}

func runSync(ctx context.Context, cmd *cobra.Command, dirs []string, watch, plain bool) error {
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	if len(e.cfg.Views) == 0 {
		return fmt.Errorf("no views configured\nRun 'mapview config init' to create .mapview.yaml")
	}

	archives, err := e.openDirs(ctx, dirs, watch)
	if err != nil {
		return err
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(plain),
		ui.WithNoColor(ui.DetectNoColor()),
		ui.WithTitle(strings.Join(dirs, ", ")),
	))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	tracker := ui.NewProgressTracker()
	untrack := e.db.Events().On("", tracker.Handle)
	defer untrack()
	detach := ui.Attach(e.db.Events(), renderer)
	defer detach()

	if err := e.indexAll(ctx, archives, watch); err != nil {
		renderer.Complete(tracker.Summary())
		return err
	}
	if watch {
		<-ctx.Done()
	}
	renderer.Complete(tracker.Summary())
	return nil
}
