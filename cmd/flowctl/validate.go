package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"intellibotic/internal/domain/flow"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a flow file for structural problems",
		Long:  `Reports fatal issues (missing start, dangling edges, ...) and warnings (unreachable nodes, incomplete branches). Exits non-zero when a fatal issue exists.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), args[0])
		},
	}
}

func runValidate(out io.Writer, path string) error {
	g, err := openGraph(path)
	if err != nil {
		var ce *flow.CorruptError
		if errors.As(err, &ce) {
			printIssues(out, ce.Issues)
			return errFatalIssues
		}
		return err
	}

	report := flow.Validate(g)
	printIssues(out, report.Issues)
	nodes, edges := g.Len()
	fmt.Fprintf(out, "Flow is valid ✅ (%d nodes, %d edges, %d warnings)\n", nodes, edges, len(report.Warnings()))
	return nil
}

func printIssues(out io.Writer, issues []flow.Issue) {
	for _, is := range issues {
		target := is.NodeID
		if target == "" {
			target = is.EdgeID
		}
		if target != "" {
			fmt.Fprintf(out, "[%s] %s %s: %s\n", is.Severity, is.Code, target, is.Message)
			continue
		}
		fmt.Fprintf(out, "[%s] %s: %s\n", is.Severity, is.Code, is.Message)
	}
}
