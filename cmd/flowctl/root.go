package main

import (
	"errors"

	"github.com/spf13/cobra"

	applog "intellibotic/internal/platform/log"
)

// errFatalIssues 流程图存在 fatal 问题，问题明细已输出
var errFatalIssues = errors.New("flow has fatal issues")

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "flowctl",
		Short: "Offline tooling for intellibotic flow files",
		Long: `flowctl validates, renders, walks and converts bot flow files.
Files may be JSON or YAML, in the portable format, an exported bot envelope,
or the legacy developer-mode format.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			applog.Init(applog.Config{Level: logLevel, Output: cmd.ErrOrStderr()})
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug|info|warn|error)")

	root.AddCommand(
		newValidateCmd(),
		newRenderCmd(),
		newWalkCmd(),
		newConvertCmd(),
	)
	return root
}
