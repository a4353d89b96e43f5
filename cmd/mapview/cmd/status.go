package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mapview/internal/mapreduce"
	"github.com/Aman-CERP/mapview/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [dir]...",
		Short: "Show the store and how far each view has synced each directory",
		Long: `Status shows the store location and the configured views. For each
directory given it shows the archive version every view has caught up to,
without syncing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := collectStatus(cmd.Context(), args)
			if err != nil {
				return err
			}
			renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
			if jsonOutput {
				return renderer.RenderJSON(info)
			}
			return renderer.Render(info)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func collectStatus(ctx context.Context, dirs []string) (ui.StatusInfo, error) {
	e, err := openEnv(ctx)
	if err != nil {
		return ui.StatusInfo{}, err
	}
	defer func() { _ = e.Close() }()

	info := ui.StatusInfo{
		StorePath: e.cfg.Store.Path,
		Backend:   e.cfg.Store.Backend,
		Views:     e.db.Views(),
		Archives:  []mapreduce.Status{},
	}

	archives, err := e.openDirs(ctx, dirs, false)
	if err != nil {
		return ui.StatusInfo{}, err
	}
	for _, a := range archives {
		st := mapreduce.Status{URL: a.URL(), Checkpoints: make(map[string]int64, len(info.Views))}
		for _, name := range info.Views {
			v, err := e.db.View(ctx, name)
			if err != nil {
				return ui.StatusInfo{}, err
			}
			cp, err := v.Checkpoint(ctx, a.URL())
			if err != nil {
				return ui.StatusInfo{}, err
			}
			st.Checkpoints[name] = cp
		}
		info.Archives = append(info.Archives, st)
	}
	return info, nil
}
