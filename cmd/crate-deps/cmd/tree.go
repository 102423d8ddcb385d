package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ritzau/crate-deps/pkg/analysis"
	"github.com/ritzau/crate-deps/pkg/output"
	"github.com/ritzau/crate-deps/pkg/query"
)

func newTreeCmd(a *app) *cobra.Command {
	var (
		version string
		format  string
	)

	cmd := &cobra.Command{
		Use:   "tree <crate>",
		Short: "Print the dependency tree of a crate",
		Long: `Print every crate reachable from <crate>. A crate reached a second time
is printed once more, marked (*), without its children.

Example:
  crate-deps tree serde
  crate-deps tree serde --version '^1.0' --format dot`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}

			q := query.Query{CrateName: args[0]}
			if cmd.Flags().Changed("version") {
				q.Predicate = query.NewVersionPredicate(nil, version)
			}

			result, err := a.load(cmd, "tree")
			if err != nil {
				return err
			}

			tree, err := analysis.Query(result.Registry, q)
			if err != nil {
				return err
			}
			return output.WriteTree(cmd.OutOrStdout(), tree, f)
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "only follow edges whose requirement matches (e.g. ^1.0)")
	cmd.Flags().StringVar(&format, "format", string(output.FormatText), "output format: text, json or dot")
	return cmd
}
