package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paveg/distjoin"
	distio "github.com/paveg/distjoin/internal/io"
)

type joinFlags struct {
	left, right       string
	leftKey, rightKey string
	leftLayout        string
	rightLayout       string
	columns           []string
	out               string
	balanced          bool
	explain           bool
}

func newJoinCommand(root *rootFlags) *cobra.Command {
	flags := &joinFlags{}
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join two CSV or Parquet files",
		Long: `Join reads both inputs, splits them over the workers with the requested
layouts, joins them on the given keys and writes the gathered result. The
output format follows the --out extension (.csv, .parquet or .jsonl); without
--out the result is printed as CSV.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.rightKey == "" {
				flags.rightKey = flags.leftKey
			}
			return runJoin(cmd, root, flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.left, "left", "", "left input file")
	f.StringVar(&flags.right, "right", "", "right input file")
	f.StringVar(&flags.leftKey, "left-key", "", "left join key column")
	f.StringVar(&flags.rightKey, "right-key", "", "right join key column (default: --left-key)")
	f.StringVar(&flags.leftLayout, "left-layout", "even", "left layout: even, uneven or replicated")
	f.StringVar(&flags.rightLayout, "right-layout", "even", "right layout: even, uneven or replicated")
	f.StringSliceVar(&flags.columns, "columns", nil, "output columns (default: all)")
	f.StringVarP(&flags.out, "out", "o", "", "output file")
	f.BoolVar(&flags.balanced, "balanced", false, "rebalance the output into even blocks")
	f.BoolVar(&flags.explain, "explain", false, "print the plan instead of running it")
	for _, name := range []string{"left", "right", "left-key"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func parseLayout(s string) (distjoin.Layout, error) {
	switch strings.ToLower(s) {
	case "even", "oned":
		return distjoin.Even, nil
	case "uneven", "oned_var":
		return distjoin.Uneven, nil
	case "replicated", "rep":
		return distjoin.Replicated, nil
	default:
		return 0, errors.Newf("unknown layout %q", s)
	}
}

func readSplit(ctx context.Context, path, layout string, workers int, mem memory.Allocator) (*distjoin.Partitioned, error) {
	l, err := parseLayout(layout)
	if err != nil {
		return nil, err
	}
	df, err := distio.ReadFile(ctx, path, mem)
	if err != nil {
		return nil, err
	}
	defer df.Release()
	return distjoin.Split(df, workers, l, mem)
}

func runJoin(cmd *cobra.Command, root *rootFlags, flags *joinFlags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, logger, done, err := root.cluster()
	if err != nil {
		return err
	}
	defer done()
	mem := memory.DefaultAllocator

	left, err := readSplit(ctx, flags.left, flags.leftLayout, c.Workers(), mem)
	if err != nil {
		return err
	}
	defer left.Release()
	right, err := readSplit(ctx, flags.right, flags.rightLayout, c.Workers(), mem)
	if err != nil {
		return err
	}
	defer right.Release()

	opts := distjoin.JoinOptions{
		LeftKey:  flags.leftKey,
		RightKey: flags.rightKey,
		Columns:  flags.columns,
		Balanced: flags.balanced,
	}
	if flags.explain {
		plan, err := c.Explain(left, right, opts)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), plan)
		return nil
	}

	out, err := c.Join(ctx, left, right, opts)
	if err != nil {
		return err
	}
	defer out.Release()
	logger.Info("join finished",
		zap.Stringer("left", left), zap.Stringer("right", right), zap.Stringer("result", out))

	df, err := out.Gather(mem)
	if err != nil {
		return err
	}
	defer df.Release()

	if flags.out == "" {
		return distio.NewCSVWriter(cmd.OutOrStdout(), distio.DefaultCSVOptions()).Write(ctx, df)
	}
	return distio.WriteFile(ctx, flags.out, df)
}
