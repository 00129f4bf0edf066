package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"intellibotic/internal/domain/flow"
)

type walkOptions struct {
	branches map[string]string
	startAt  string
	maxSteps int
}

func newWalkCmd() *cobra.Command {
	opts := walkOptions{}

	cmd := &cobra.Command{
		Use:   "walk <file>",
		Short: "Walk the flow breadth-first and print the visited nodes",
		Long: `Walks the flow from the start node (or --start-at). Condition nodes follow the
branch given with --branch NODE=true|false; without any --branch every branch is followed.`,
		Example: `  flowctl walk bot.json --branch 3=true
  flowctl walk bot.yaml --start-at 3 --max-steps 20`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWalk(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().StringToStringVar(&opts.branches, "branch", nil, "branch to take at a condition node, as NODE=BRANCH (repeatable)")
	cmd.Flags().StringVar(&opts.startAt, "start-at", "", "node id to start from instead of the start node")
	cmd.Flags().IntVar(&opts.maxSteps, "max-steps", flow.DefaultMaxSteps, "maximum number of steps once the walk enters a loop")
	return cmd
}

func runWalk(ctx context.Context, out io.Writer, path string, opts walkOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	g, err := openGraph(path)
	if err != nil {
		return err
	}
	if opts.startAt != "" {
		if _, ok := g.Node(opts.startAt); !ok {
			return fmt.Errorf("start node %q: %w", opts.startAt, flow.ErrNotFound)
		}
	}

	wo := flow.WalkOptions{StartAt: opts.startAt, MaxSteps: opts.maxSteps}
	if len(opts.branches) > 0 {
		wo.Evaluate = flow.FixedBranches(opts.branches)
	}

	w := g.Walk(ctx, wo)
	for i := 1; ; i++ {
		step, ok := w.Next()
		if !ok {
			break
		}
		label := step.Node.Label
		if label == "" {
			label = step.Node.ID
		}
		via := ""
		if step.Via != nil && step.Via.SourceHandle != "" {
			via = fmt.Sprintf(" (via %s)", step.Via.SourceHandle)
		}
		fmt.Fprintf(out, "%3d. %s [%s] %s%s\n", i, step.Node.ID, step.Node.Kind, label, via)
	}
	fmt.Fprintf(out, "outcome: %s\n", w.Outcome())
	return w.Err()
}
