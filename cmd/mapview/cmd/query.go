package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mapview/internal/output"
	"github.com/Aman-CERP/mapview/internal/view"
)

func newGetCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "get <view> <key>",
		Short: "Read one key from a view",
		Long: `Get prints the value stored under key. Keys are JSON; anything that is
not valid JSON is taken as a string.

Views without a reducer return the ordered values of every entry under the
key. Reducing views return the reduced value.`,
		Example: `  mapview get types post
  mapview get by-day '["2024", 3]'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[1])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			row, err := e.db.Get(ctx, args[0], key)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(row)
			}
			return out.Rows([]view.Row{row})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newListCmd() *cobra.Command {
	var (
		gt, gte, lt, lte string
		reverse          bool
		limit            int
		jsonOutput       bool
	)

	cmd := &cobra.Command{
		Use:   "list <view>",
		Short: "Range-scan a view in key order",
		Long: `List prints rows in key order. Bounds are JSON keys, like get. Array
keys compare element by element, so --gte '["a"]' --lt '["b"]' selects every
key whose first element is "a".`,
		Example: `  mapview list types --limit 10
  mapview list counts --gte a --lt b --reverse
  mapview list types --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := view.ListOptions{Reverse: reverse, Limit: limit}
			for _, b := range []struct {
				flag string
				raw  string
				dst  *any
			}{
				{"gt", gt, &opts.GT},
				{"gte", gte, &opts.GTE},
				{"lt", lt, &opts.LT},
				{"lte", lte, &opts.LTE},
			} {
				if !cmd.Flags().Changed(b.flag) {
					continue
				}
				k, err := parseKey(b.raw)
				if err != nil {
					return err
				}
				*b.dst = k
			}

			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			rows, err := e.db.List(ctx, args[0], opts)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSONLines(rows)
			}
			return out.Rows(rows)
		},
	}

	cmd.Flags().StringVar(&gt, "gt", "", "Only keys greater than this")
	cmd.Flags().StringVar(&gte, "gte", "", "Only keys greater than or equal to this")
	cmd.Flags().StringVar(&lt, "lt", "", "Only keys less than this")
	cmd.Flags().StringVar(&lte, "lte", "", "Only keys less than or equal to this")
	cmd.Flags().BoolVarP(&reverse, "reverse", "r", false, "Descending key order")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum rows (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output one JSON object per line")

	return cmd
}
