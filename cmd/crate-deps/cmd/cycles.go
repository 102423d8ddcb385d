package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ritzau/crate-deps/pkg/cycles"
	"github.com/ritzau/crate-deps/pkg/graph"
	"github.com/ritzau/crate-deps/pkg/output"
)

func newCyclesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cycles",
		Short: "List dependency cycles across the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.load(cmd, "cycles")
			if err != nil {
				return err
			}

			found := cycles.FindCrateCycles(graph.BuildCrateGraph(result.Registry))
			output.PrintCycles(cmd.OutOrStdout(), found)
			return nil
		},
	}
}
