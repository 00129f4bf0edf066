package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"intellibotic/internal/domain/flow"
)

func newRenderCmd() *cobra.Command {
	var visited []string
	var current string

	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Print the flow as a Mermaid diagram",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := openGraph(args[0])
			if err != nil {
				return err
			}
			var overlay *flow.Overlay
			if len(visited) > 0 || current != "" {
				overlay = &flow.Overlay{Visited: visited, Current: current}
			}
			fmt.Fprint(cmd.OutOrStdout(), flow.RenderMermaid(g, overlay))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&visited, "visited", nil, "node ids to highlight as visited")
	cmd.Flags().StringVar(&current, "current", "", "node id to highlight as current")
	return cmd
}
