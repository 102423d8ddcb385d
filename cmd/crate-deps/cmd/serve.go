package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ritzau/crate-deps/pkg/analysis"
	"github.com/ritzau/crate-deps/pkg/config"
	"github.com/ritzau/crate-deps/pkg/logging"
	"github.com/ritzau/crate-deps/pkg/pubsub"
	"github.com/ritzau/crate-deps/pkg/watcher"
	"github.com/ritzau/crate-deps/pkg/web"
)

const (
	quietPeriod = 2 * time.Second  // An export download writes for a long time
	maxWait     = 30 * time.Second // Rebuild at the latest this long after the first change
)

func newServeCmd(a *app) *cobra.Command {
	var open bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the registry over HTTP",
		Long: `Start the HTTP API and load the registry in the background.

With --watch the export and the config file are watched, and the registry is
rebuilt from the export whenever either changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, cmd, open)
		},
	}

	cmd.Flags().Int("port", 8080, "port for the web server")
	cmd.Flags().Bool("watch", false, "rebuild when the export or config changes")
	cmd.Flags().BoolVar(&open, "open", false, "open the browser once the server runs")
	return cmd
}

func (a *app) serve(ctx context.Context, cmd *cobra.Command, open bool) error {
	server := web.NewServer()
	server.PublishStatus(pubsub.RegistryStatus{State: pubsub.StateLoading, Message: "Loading registry"})

	port := a.cfg.Port
	g, ctx := errgroup.WithContext(ctx)

	// Start server first, then load in the background
	g.Go(func() error {
		return server.Start(ctx, port)
	})

	if open {
		go func() {
			// Wait a moment for server to start
			time.Sleep(500 * time.Millisecond)
			openBrowser(fmt.Sprintf("http://localhost:%d/api/summary", port))
		}()
	}

	// Loading and watching share one goroutine so a.cfg has a single owner
	g.Go(func() error {
		err := a.rebuild(ctx, server, "startup", false)
		if ctx.Err() != nil {
			return nil
		}
		if !a.cfg.Watch {
			// Nothing will ever fix a failed load without a watcher
			return err
		}
		return a.watch(ctx, cmd, server)
	})

	return g.Wait()
}

// rebuild loads a registry and hands it to the server. Failures are
// published so connected clients see them.
func (a *app) rebuild(ctx context.Context, server *web.Server, reason string, fresh bool) error {
	server.PublishStatus(pubsub.RegistryStatus{
		State:   pubsub.StateLoading,
		Message: fmt.Sprintf("Loading registry (%s)", reason),
	})

	opts, err := a.options(reason)
	if err == nil {
		opts.Fresh = opts.Fresh || fresh
		var result *analysis.Result
		if result, err = analysis.BuildOrLoad(ctx, opts); err == nil {
			server.SetResult(result)
			logging.Info("registry ready",
				"reason", reason,
				"crates", result.Registry.Len(),
				"edges", result.Registry.EdgeCount(),
				"fromCache", result.FromCache)
			return nil
		}
	}

	logging.Error("could not load registry", "reason", reason, "error", err)
	server.PublishStatus(pubsub.RegistryStatus{State: pubsub.StateError, Message: err.Error()})
	return err
}

// watch rebuilds the registry whenever the export or the config file changes
func (a *app) watch(ctx context.Context, cmd *cobra.Command, server *web.Server) error {
	configPath, err := filepath.Abs(a.configFile)
	if err != nil {
		return err
	}
	exportPath, err := filepath.Abs(a.cfg.Export)
	if err != nil {
		return err
	}

	fw, err := watcher.NewFileWatcher(exportPath, configPath)
	if err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		return err
	}
	defer fw.Stop()

	debouncer := watcher.NewDebouncer(fw.Events(), quietPeriod, maxWait)
	debouncer.Start(ctx)

	for event := range debouncer.Output() {
		change := watcher.AnalyzeChanges(event)
		logging.Debug("change detected", "type", event.Type.String(), "files", len(change.ChangedFiles))

		reason := "export changed"
		if change.NeedConfigReload {
			reason = "config changed"
			cfg, err := config.LoadFrom(a.configFile, cmd.Flags())
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				logging.Error("could not reload config, keeping the previous one", "error", err)
				continue
			}
			a.cfg = cfg
		}

		if change.NeedRebuild {
			// The snapshot was written for the previous export
			_ = a.rebuild(ctx, server, reason, true)
		}
	}
	return nil
}

func openBrowser(url string) {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "linux":
		cmd = "xdg-open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		logging.Warn("cannot open browser on this platform", "os", runtime.GOOS)
		return
	}

	if err := exec.Command(cmd, args...).Start(); err != nil {
		logging.Warn("failed to open browser", "error", err)
	}
}
