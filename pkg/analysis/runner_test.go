package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/crate-deps/pkg/ingest"
	"github.com/ritzau/crate-deps/pkg/model"
	"github.com/ritzau/crate-deps/pkg/query"
	"github.com/ritzau/crate-deps/pkg/snapshot"
	"github.com/ritzau/crate-deps/pkg/unroll"
)

// MockLoader returns a fixed registry and records its calls
type MockLoader struct {
	Registry *model.Registry
	Err      error
	Calls    int
	LastOpts ingest.Options
}

func (m *MockLoader) Load(_ context.Context, _ string, opts ingest.Options) (*model.Registry, *ingest.Summary, error) {
	m.Calls++
	m.LastOpts = opts
	if m.Err != nil {
		return nil, nil, m.Err
	}
	return m.Registry, ingest.RegistrySummary(m.Registry.Len(), m.Registry.EdgeCount()), nil
}

// MockCache is an in-memory Cache
type MockCache struct {
	Registry *model.Registry
	LoadErr  error
	StoreErr error
	Loads    int
	Stores   int
}

func (m *MockCache) Load() (*model.Registry, error) {
	m.Loads++
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	if m.Registry == nil {
		return nil, snapshot.ErrNoSnapshot
	}
	return m.Registry, nil
}

func (m *MockCache) Store(reg *model.Registry) error {
	m.Stores++
	if m.StoreErr != nil {
		return m.StoreErr
	}
	m.Registry = reg
	return nil
}

func registryOf(t *testing.T, names ...string) *model.Registry {
	t.Helper()
	reg := model.NewRegistry(len(names))
	for i, name := range names {
		require.NoError(t, reg.Add(model.NewCrate(uint32(i+1), name, model.Metadata{})))
	}
	return reg
}

var opts = Options{ExportPath: "export.tar.gz", MaxMalformedRows: 5, SpoolDir: "/spool"}

func TestRunUsesSnapshot(t *testing.T) {
	cached := registryOf(t, "cached")
	loader := &MockLoader{Registry: registryOf(t, "fresh")}
	cache := &MockCache{Registry: cached}

	result, err := NewRunner(loader, cache).Run(context.Background(), opts)
	require.NoError(t, err)
	assert.True(t, result.FromCache)
	assert.Same(t, cached, result.Registry)
	assert.Equal(t, 1, result.Summary.Crates)
	assert.Equal(t, 0, loader.Calls)
	assert.Equal(t, 0, cache.Stores)
}

func TestRunIngestsWithoutSnapshot(t *testing.T) {
	fresh := registryOf(t, "fresh")
	loader := &MockLoader{Registry: fresh}
	cache := &MockCache{}

	result, err := NewRunner(loader, cache).Run(context.Background(), opts)
	require.NoError(t, err)
	assert.False(t, result.FromCache)
	assert.Same(t, fresh, result.Registry)
	assert.Equal(t, 1, loader.Calls)
	assert.Equal(t, 1, cache.Stores)
	assert.Same(t, fresh, cache.Registry)

	assert.Equal(t, 5, loader.LastOpts.MaxMalformedRows)
	assert.Equal(t, "/spool", loader.LastOpts.SpoolDir)
}

func TestRunFreshNeverConsultsCache(t *testing.T) {
	loader := &MockLoader{Registry: registryOf(t, "fresh")}
	cache := &MockCache{Registry: registryOf(t, "cached")}

	fresh := opts
	fresh.Fresh = true
	result, err := NewRunner(loader, cache).Run(context.Background(), fresh)
	require.NoError(t, err)
	assert.False(t, result.FromCache)
	assert.Equal(t, 0, cache.Loads)
	assert.Equal(t, 1, cache.Stores, "fresh build still refreshes the snapshot")
}

func TestRunCorruptSnapshot(t *testing.T) {
	corrupt := &MockCache{LoadErr: snapshot.ErrCacheCorrupt}
	loader := &MockLoader{Registry: registryOf(t, "fresh")}

	_, err := NewRunner(loader, corrupt).Run(context.Background(), opts)
	assert.ErrorIs(t, err, snapshot.ErrCacheCorrupt)
	assert.Equal(t, 0, loader.Calls)

	fallback := opts
	fallback.FallbackOnCorrupt = true
	result, err := NewRunner(loader, corrupt).Run(context.Background(), fallback)
	require.NoError(t, err)
	assert.False(t, result.FromCache)
	assert.Equal(t, 1, loader.Calls)
}

func TestRunCacheWriteFailureIsNotFatal(t *testing.T) {
	storeErr := errors.Join(snapshot.ErrCacheWriteFailed, errors.New("disk full"))
	loader := &MockLoader{Registry: registryOf(t, "fresh")}
	cache := &MockCache{StoreErr: storeErr}

	result, err := NewRunner(loader, cache).Run(context.Background(), opts)
	require.NoError(t, err)
	require.NotNil(t, result.Registry)
	assert.ErrorIs(t, result.CacheErr, snapshot.ErrCacheWriteFailed)
}

func TestRunIngestFailure(t *testing.T) {
	loader := &MockLoader{Err: ingest.ErrMissingTableMember}
	cache := &MockCache{}

	_, err := NewRunner(loader, cache).Run(context.Background(), opts)
	assert.ErrorIs(t, err, ingest.ErrMissingTableMember)
	assert.Equal(t, 0, cache.Stores)
}

func TestRunWithoutCache(t *testing.T) {
	loader := &MockLoader{Registry: registryOf(t, "fresh")}

	result, err := NewRunner(loader, nil).Run(context.Background(), opts)
	require.NoError(t, err)
	assert.False(t, result.FromCache)
	assert.NoError(t, result.CacheErr)
}

func TestRunNeedsExportPath(t *testing.T) {
	loader := &MockLoader{Registry: registryOf(t, "fresh")}

	_, err := NewRunner(loader, &MockCache{}).Run(context.Background(), Options{})
	assert.ErrorIs(t, err, ingest.ErrArchiveUnreadable)
	assert.Equal(t, 0, loader.Calls)
}

func TestQuery(t *testing.T) {
	_, err := Query(nil, query.Query{CrateName: "a"})
	assert.ErrorIs(t, err, ErrNotLoaded)

	reg := registryOf(t, "a")
	_, err = Query(reg, query.Query{CrateName: "b"})
	assert.ErrorIs(t, err, unroll.ErrCrateNotFound)

	tree, err := Query(reg, query.Query{CrateName: "a"})
	require.NoError(t, err)
	assert.Equal(t, "a", tree.Name)
}
