package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"intellibotic/internal/domain/flow"
)

func newConvertCmd() *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a flow file to the portable JSON or YAML format",
		Long:  `Reads any supported flow file (legacy developer-mode exports included), validates it and writes the portable document to stdout.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd.OutOrStdout(), args[0], to)
		},
	}
	cmd.Flags().StringVar(&to, "to", "json", "output format (json|yaml)")
	return cmd
}

func runConvert(out io.Writer, path, to string) error {
	g, err := openGraph(path)
	if err != nil {
		return err
	}
	doc := flow.ToPortable(g)

	switch to {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml", "yml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q (want json or yaml)", to)
	}
}
