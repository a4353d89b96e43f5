package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mapview/internal/mapreduce"
	"github.com/Aman-CERP/mapview/internal/output"
)

func newUnindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unindex <dir>...",
		Short: "Remove everything one or more directories contributed to the views",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			archives, err := e.openDirs(ctx, args, false)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			for i, a := range archives {
				// Only active archives can be unindexed, so activate first.
				if err := e.db.Index(ctx, a, mapreduce.IndexOptions{}); err != nil {
					return err
				}
				if err := e.db.Unindex(ctx, a); err != nil {
					return err
				}
				out.Successf("Unindexed %s", args[i])
			}
			return nil
		},
	}
}
