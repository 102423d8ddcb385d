package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ritzau/crate-deps/pkg/finder"
	"github.com/ritzau/crate-deps/pkg/logging"
)

// ChangeType represents the type of file change detected
type ChangeType int

const (
	ChangeTypeExport ChangeType = iota
	ChangeTypeConfig
)

func (t ChangeType) String() string {
	switch t {
	case ChangeTypeConfig:
		return "config"
	default:
		return "export"
	}
}

// ChangeEvent represents a batch of file system changes
type ChangeEvent struct {
	Type      ChangeType
	Paths     []string
	Timestamp time.Time
}

// batchDelay groups the burst of events a single copy or rename produces
const batchDelay = 100 * time.Millisecond

// FileWatcher watches the export archive and the config file. It watches
// their directories so replacing a file by rename is still seen.
type FileWatcher struct {
	watcher     *fsnotify.Watcher
	exportPath  string // File, or directory searched for archives
	exportIsDir bool
	configPath  string // Empty when there is no config file
	events      chan ChangeEvent
	stopOnce    sync.Once
}

// NewFileWatcher creates a watcher for an export path and an optional config
// file
func NewFileWatcher(exportPath, configPath string) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	fw := &FileWatcher{
		watcher:    watcher,
		exportPath: filepath.Clean(exportPath),
		events:     make(chan ChangeEvent, 100),
	}
	if info, err := os.Stat(exportPath); err == nil && info.IsDir() {
		fw.exportIsDir = true
	}
	if configPath != "" {
		fw.configPath = filepath.Clean(configPath)
	}
	return fw, nil
}

// Start begins watching for file changes
func (fw *FileWatcher) Start(ctx context.Context) error {
	dirs := map[string]bool{fw.exportDir(): true}
	if fw.configPath != "" {
		dirs[filepath.Dir(fw.configPath)] = true
	}

	for dir := range dirs {
		if err := fw.watcher.Add(dir); err != nil {
			_ = fw.watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		logging.Debug("watching directory", "path", dir)
	}

	logging.Info("started watching export", "path", fw.exportPath)

	// Process events
	go fw.processEvents(ctx)

	return nil
}

// exportDir is the directory that holds the export archive
func (fw *FileWatcher) exportDir() string {
	if fw.exportIsDir {
		return fw.exportPath
	}
	return filepath.Dir(fw.exportPath)
}

// classify maps an event path to a change type
func (fw *FileWatcher) classify(path string) (ChangeType, bool) {
	path = filepath.Clean(path)
	switch {
	case fw.configPath != "" && path == fw.configPath:
		return ChangeTypeConfig, true
	case path == fw.exportPath:
		return ChangeTypeExport, true
	case fw.exportIsDir && filepath.Dir(path) == fw.exportPath && finder.IsExport(path):
		return ChangeTypeExport, true
	default:
		return 0, false
	}
}

// processEvents processes file system events and batches them by type
func (fw *FileWatcher) processEvents(ctx context.Context) {
	// Batch events to avoid sending one event per write
	pending := make(map[ChangeType][]string)

	flushTimer := time.NewTimer(batchDelay)
	flushTimer.Stop()

	flush := func() {
		for _, t := range []ChangeType{ChangeTypeExport, ChangeTypeConfig} {
			if len(pending[t]) == 0 {
				continue
			}
			select {
			case fw.events <- ChangeEvent{Type: t, Paths: pending[t], Timestamp: time.Now()}:
			case <-ctx.Done():
				return
			}
			delete(pending, t)
		}
	}

	defer close(fw.events)
	defer fw.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			t, relevant := fw.classify(event.Name)
			if !relevant {
				continue
			}
			logging.Trace("file changed", "path", event.Name, "op", event.Op.String())
			pending[t] = append(pending[t], event.Name)
			flushTimer.Reset(batchDelay)

		case <-flushTimer.C:
			flush()

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("watcher error", "error", err)
		}
	}
}

// Events returns the channel of change events. It is closed when the
// watcher stops.
func (fw *FileWatcher) Events() <-chan ChangeEvent {
	return fw.events
}

// Stop stops the file watcher
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		err = fw.watcher.Close()
	})
	return err
}
