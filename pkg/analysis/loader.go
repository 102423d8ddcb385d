package analysis

import (
	"context"

	"github.com/ritzau/crate-deps/pkg/ingest"
	"github.com/ritzau/crate-deps/pkg/model"
	"github.com/ritzau/crate-deps/pkg/snapshot"
)

// Loader produces a fresh registry from an export.
// Implementations should respect the context for cancellation.
type Loader interface {
	Load(ctx context.Context, exportPath string, opts ingest.Options) (*model.Registry, *ingest.Summary, error)
}

// Cache persists a registry between runs
type Cache interface {
	Load() (*model.Registry, error)
	Store(reg *model.Registry) error
}

// ArchiveLoader ingests the gzip-compressed tar export on disk
type ArchiveLoader struct{}

// Load implements Loader
func (ArchiveLoader) Load(ctx context.Context, exportPath string, opts ingest.Options) (*model.Registry, *ingest.Summary, error) {
	return ingest.LoadFile(ctx, exportPath, opts)
}

var (
	_ Loader = ArchiveLoader{}
	_ Cache  = (*snapshot.Cache)(nil)
)
