package cmd

import (
	"github.com/spf13/cobra"
)

func newBuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Ingest the export and write the snapshot",
		Long: `Ingest the export and write the registry snapshot, ignoring any
existing snapshot. Prints the ingestion summary.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cfg.Fresh = true
			result, err := a.load(cmd, "build")
			if err != nil {
				return err
			}
			// A snapshot is the point of this command
			return result.CacheErr
		},
	}
}
