package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ritzau/crate-deps/pkg/analysis"
	"github.com/ritzau/crate-deps/pkg/config"
	"github.com/ritzau/crate-deps/pkg/ingest"
	"github.com/ritzau/crate-deps/pkg/logging"
	"github.com/ritzau/crate-deps/pkg/output"
)

// app is the state shared by the subcommands of one invocation
type app struct {
	configFile string
	cfg        *config.Config
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "crate-deps",
		Short: "Explore the dependency graph of a crates.io database export",
		Long: `crate-deps reads the crates.io bulk database export (db-dump.tar.gz),
joins its crate, version and dependency tables into a registry, and prints
the dependency tree of a crate.

The registry is cached as a snapshot so later runs skip the export.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip initialization for help commands
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", config.DefaultFile, "config file (TOML)")
	flags.String("export", "db-dump.tar.gz", "export archive, or a directory holding exports")
	flags.String("cache", config.DefaultCachePath(), "snapshot file (empty disables the cache)")
	flags.Bool("fresh", false, "ingest the export even when a snapshot exists")
	flags.Int("max-malformed", 100, "malformed rows tolerated before ingestion aborts")
	flags.String("spool-dir", "", "directory for out-of-order table members")
	flags.Bool("fallback-on-corrupt", true, "re-ingest when the snapshot is corrupt")
	flags.String("verbosity", "", "log level (trace, debug, info, warn, error)")
	flags.CountP("verbose", "v", "increase log verbosity (repeatable)")
	flags.Bool("json-logs", false, "write logs as JSON")

	root.AddCommand(
		newTreeCmd(a),
		newBuildCmd(a),
		newCyclesCmd(a),
		newServeCmd(a),
	)
	return root
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// init loads the layered configuration and sets up logging
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.LoadFrom(a.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level := logging.ParseLevel(cfg.Verbosity, cfg.VerboseCnt)
	if cfg.JSONLogs {
		logging.SetJSONOutput(level)
	} else {
		logging.SetLevel(level)
	}
	logging.Debug("configuration loaded", "export", cfg.Export, "cache", cfg.Cache)
	return nil
}

// options maps the configuration onto the core options for one run
func (a *app) options(reason string) (analysis.Options, error) {
	opts, err := a.cfg.AnalysisOptions()
	if err != nil {
		return opts, err
	}
	opts.Reason = reason
	opts.OnRowError = func(rowErr *ingest.RowError) {
		logging.Debug("skipped row", "table", string(rowErr.Table), "row", rowErr.Row, "error", rowErr.Err)
	}
	return opts, nil
}

// load obtains the registry and prints the summary to stderr
func (a *app) load(cmd *cobra.Command, reason string) (*analysis.Result, error) {
	opts, err := a.options(reason)
	if err != nil {
		return nil, err
	}
	result, err := analysis.BuildOrLoad(cmd.Context(), opts)
	if err != nil {
		return nil, err
	}
	output.PrintSummary(cmd.ErrOrStderr(), result.Summary, result.FromCache)
	return result, nil
}
