package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ritzau/crate-deps/pkg/ingest"
	"github.com/ritzau/crate-deps/pkg/logging"
	"github.com/ritzau/crate-deps/pkg/model"
	"github.com/ritzau/crate-deps/pkg/query"
	"github.com/ritzau/crate-deps/pkg/snapshot"
	"github.com/ritzau/crate-deps/pkg/unroll"
)

// ErrNotLoaded is returned when a query arrives before any registry exists
var ErrNotLoaded = errors.New("registry not loaded")

// Options configures how a registry is obtained
type Options struct {
	ExportPath string // gzip-compressed tar export
	CachePath  string // Snapshot location; empty disables the cache
	Fresh      bool   // Ingest even when a snapshot exists

	MaxMalformedRows int
	SpoolDir         string

	// FallbackOnCorrupt re-ingests when the snapshot is corrupt instead of
	// failing
	FallbackOnCorrupt bool

	OnRowError func(*ingest.RowError)
	Reason     string // e.g. "startup", "export changed"
}

func (o Options) ingestOptions() ingest.Options {
	return ingest.Options{
		MaxMalformedRows: o.MaxMalformedRows,
		SpoolDir:         o.SpoolDir,
		OnRowError:       o.OnRowError,
	}
}

// Result is a ready registry and how it was obtained
type Result struct {
	Registry  *model.Registry
	Summary   *ingest.Summary
	FromCache bool

	// CacheErr is set when the fresh registry could not be written to the
	// snapshot. The registry is still usable.
	CacheErr error
}

// Runner decides between the snapshot and a fresh ingestion
type Runner struct {
	loader Loader
	cache  Cache      // nil disables the cache
	mu     sync.Mutex // Prevent concurrent runs
}

// NewRunner creates a runner. cache may be nil.
func NewRunner(loader Loader, cache Cache) *Runner {
	return &Runner{loader: loader, cache: cache}
}

// BuildOrLoad obtains a registry for opts using the export on disk and the
// snapshot at opts.CachePath
func BuildOrLoad(ctx context.Context, opts Options) (*Result, error) {
	var cache Cache
	if opts.CachePath != "" {
		cache = snapshot.NewCache(opts.CachePath)
	}
	return NewRunner(ArchiveLoader{}, cache).Run(ctx, opts)
}

// Run loads the snapshot unless opts.Fresh is set, and ingests the export
// when there is no usable snapshot. A freshly ingested registry is written
// back to the cache; a failed write is logged and reported in
// Result.CacheErr.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger := logging.New("analysis")
	if opts.Reason != "" {
		logger = logger.With("reason", opts.Reason)
	}

	if !opts.Fresh && r.cache != nil {
		start := time.Now()
		reg, err := r.cache.Load()
		switch {
		case err == nil:
			logger.Info("registry loaded from snapshot",
				"crates", reg.Len(),
				"duration", time.Since(start))
			return &Result{
				Registry:  reg,
				Summary:   ingest.RegistrySummary(reg.Len(), reg.EdgeCount()),
				FromCache: true,
			}, nil
		case errors.Is(err, snapshot.ErrNoSnapshot):
			logger.Info("no snapshot, ingesting export")
		case opts.FallbackOnCorrupt:
			logger.Warn("snapshot unusable, ingesting export", "error", err)
		default:
			return nil, err
		}
	}

	if opts.ExportPath == "" {
		return nil, fmt.Errorf("%w: no export path given", ingest.ErrArchiveUnreadable)
	}

	logger.Info("ingesting export", "path", opts.ExportPath)
	reg, summary, err := r.loader.Load(ctx, opts.ExportPath, opts.ingestOptions())
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", opts.ExportPath, err)
	}

	result := &Result{Registry: reg, Summary: summary}
	if r.cache != nil {
		if err := r.cache.Store(reg); err != nil {
			logger.Warn("could not write snapshot", "error", err)
			result.CacheErr = err
		}
	}
	return result, nil
}

// Query unrolls the tree for q from reg
func Query(reg *model.Registry, q query.Query) (*model.ResultTree, error) {
	if reg == nil {
		return nil, ErrNotLoaded
	}
	return unroll.Unroll(reg, q)
}
