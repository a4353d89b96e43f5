// Package cmd provides the CLI commands for mapview.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mapview/internal/errors"
	"github.com/Aman-CERP/mapview/internal/logging"
	"github.com/Aman-CERP/mapview/pkg/version"
)

// Global flags shared by every subcommand.
var (
	projectDir     string
	configPath     string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the mapview CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapview",
		Short: "Incremental map/reduce views over versioned file archives",
		Long: `mapview maintains materialized views over directories of files.

Each view maps every matching file to keyed entries and optionally reduces
the entries per key. Views are declared in .mapview.yaml with CEL
expressions and are kept in sync incrementally: only files changed since
the last pass are re-mapped.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("mapview version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "Project directory holding .mapview.yaml")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Explicit config file path")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.mapview/logs/ and stderr")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newUnindexCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newViewsCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDestroyCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging installs the default logger. Without --debug only warnings
// reach stderr; serve replaces this with file logging.
func startLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.Config{Level: "warn", WriteToStderr: true}
	if debugMode {
		cfg = logging.DebugConfig()
	}
	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	if debugMode {
		slog.Info("Debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command and prints a formatted error on failure.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err != nil {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), errors.FormatForCLI(err))
	}
	return err
}
