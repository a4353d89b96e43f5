package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mapview/internal/output"
)

// viewInfo describes a defined view.
type viewInfo struct {
	Name     string   `json:"name"`
	Paths    []string `json:"paths"`
	Reducing bool     `json:"reducing"`
}

func newViewsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "views",
		Short: "List the configured views",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			infos := make([]viewInfo, 0, len(e.cfg.Views))
			for _, name := range e.db.Views() {
				v, err := e.db.View(ctx, name)
				if err != nil {
					return err
				}
				infos = append(infos, viewInfo{Name: name, Paths: v.Patterns(), Reducing: v.Reducing()})
			}

			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(infos)
			}
			if len(infos) == 0 {
				out.Warningf("No views configured")
				return nil
			}
			for _, v := range infos {
				kind := "entries"
				if v.Reducing {
					kind = "reduced"
				}
				out.Statusf("•", "%s (%s) %s", v.Name, kind, strings.Join(v.Paths, " "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <view>",
		Short: "Drop a view's entries and checkpoints so the next sync rebuilds it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			if err := e.db.Reset(ctx, args[0]); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Reset %s", args[0])
			return nil
		},
	}
}

func newDestroyCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete every view, entry and checkpoint in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			if !yes {
				out.Warningf("This deletes the whole store. Re-run with --yes to confirm.")
				return nil
			}

			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			if err := e.db.Destroy(ctx); err != nil {
				return err
			}
			out.Successf("Destroyed %s", e.cfg.Store.Path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")
	return cmd
}
