package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ritzau/crate-deps/pkg/logging"
	"github.com/ritzau/crate-deps/pkg/model"
)

// cancelCheckInterval is how many rows pass between context checks
const cancelCheckInterval = 4096

// Options configures one ingestion run
type Options struct {
	// MaxMalformedRows is how many undecodable rows are tolerated across all
	// tables before ingestion aborts. 0 tolerates none.
	MaxMalformedRows int

	// SpoolDir holds temporary copies of table members that arrive out of
	// phase order. Empty means os.TempDir().
	SpoolDir string

	// ExpectedCrates presizes the registry and lookups.
	ExpectedCrates int

	// OnRowError receives every skipped row. Defaults to a debug log line.
	OnRowError func(*RowError)
}

// DefaultOptions returns the options used by the CLI
func DefaultOptions() Options {
	return Options{
		MaxMalformedRows: 100,
	}
}

// pipeline carries the state shared by the three phases
type pipeline struct {
	ctx     context.Context
	opts    Options
	logger  *slog.Logger
	reg     *model.Registry
	summary *Summary

	// Lookups used only to resolve foreign keys; discarded afterwards
	idToName       map[uint32]string
	versionToCrate map[uint32]uint32
}

// LoadFile ingests the export archive at path
func LoadFile(ctx context.Context, path string, opts Options) (*model.Registry, *Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrArchiveUnreadable, err)
	}
	defer func() { _ = f.Close() }()

	return Load(ctx, f, opts)
}

// Load ingests a gzip-compressed tar stream holding crates.csv, versions.csv
// and dependencies.csv. Tables are joined strictly in that order whatever
// their order inside the archive.
//
// Rows that cannot be decoded or resolved are skipped and counted in the
// returned Summary. Ingestion fails when the archive is unreadable, a table
// is missing, the malformed row limit is passed, or the crate table binds a
// name or id twice.
func Load(ctx context.Context, r io.Reader, opts Options) (*model.Registry, *Summary, error) {
	start := time.Now()

	p := &pipeline{
		ctx:            ctx,
		opts:           opts,
		logger:         logging.New("ingest"),
		reg:            model.NewRegistry(opts.ExpectedCrates),
		summary:        newSummary(),
		idToName:       make(map[uint32]string, opts.ExpectedCrates),
		versionToCrate: make(map[uint32]uint32, opts.ExpectedCrates),
	}
	if p.opts.OnRowError == nil {
		p.opts.OnRowError = func(e *RowError) {
			p.logger.Debug("skipped row", "table", string(e.Table), "row", e.Row, "error", e.Err)
		}
	}

	err := walkArchive(ctx, r, opts.SpoolDir, func(table Table, r io.Reader) error {
		phaseStart := time.Now()
		var err error
		switch table {
		case TableCrates:
			err = p.crates(r)
		case TableVersions:
			err = p.versions(r)
		case TableDependencies:
			err = p.dependencies(r)
		}
		if err != nil {
			return err
		}
		p.logger.Info("table ingested", "table", string(table), "duration", time.Since(phaseStart))
		return nil
	})

	p.summary.Duration = time.Since(start)
	if err != nil {
		return nil, p.summary, err
	}

	p.logger.Info("ingestion complete", "summary", p.summary.String(), "duration", p.summary.Duration)
	return p.reg, p.summary, nil
}

// rows drives a table reader, routing per-row errors and checking for
// cancellation. fn handles one decoded record.
func (p *pipeline) rows(t *tableReader, fn func(rec []string) error) error {
	for n := 0; ; n++ {
		if n%cancelCheckInterval == 0 {
			if err := p.ctx.Err(); err != nil {
				return err
			}
		}

		rec, err := t.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err == nil {
			err = fn(rec)
		}
		if err == nil {
			continue
		}

		var rowErr *RowError
		if !errors.As(err, &rowErr) {
			return err
		}
		if err := p.skip(rowErr); err != nil {
			return err
		}
	}
}

// skip counts and reports a row error, failing once too many rows were
// malformed
func (p *pipeline) skip(rowErr *RowError) error {
	p.opts.OnRowError(rowErr)

	if errors.Is(rowErr, ErrUnresolvedForeignKey) {
		p.summary.Unresolved++
		return nil
	}

	p.summary.Malformed[rowErr.Table]++
	if total := p.summary.MalformedTotal(); total > p.opts.MaxMalformedRows {
		return fmt.Errorf("%w: %d malformed rows, limit %d (last: %v)",
			ErrTooManyMalformedRows, total, p.opts.MaxMalformedRows, rowErr)
	}
	return nil
}

// crates is phase 1: every crate enters the registry and the id lookup
func (p *pipeline) crates(r io.Reader) error {
	t, err := newTableReader(TableCrates, r, "id", "name")
	if err != nil {
		return err
	}

	return p.rows(t, func(rec []string) error {
		row, err := t.crate(rec)
		if err != nil {
			return err
		}

		if existing, ok := p.reg.GetWithBothKeys(row.name, row.id); ok {
			// Repeated row for the same crate: refresh metadata, keep edges
			existing.Metadata = row.meta
			return nil
		}
		if err := p.reg.Add(model.NewCrate(row.id, row.name, row.meta)); err != nil {
			return fmt.Errorf("%s row %d: %w", TableCrates, t.row, err)
		}

		p.idToName[row.id] = row.name
		p.summary.Crates++
		return nil
	})
}

// versions is phase 2: map every version to the crate that owns it
func (p *pipeline) versions(r io.Reader) error {
	t, err := newTableReader(TableVersions, r, "id", "crate_id")
	if err != nil {
		return err
	}

	return p.rows(t, func(rec []string) error {
		row, err := t.version(rec)
		if err != nil {
			return err
		}
		if !row.hasCrate {
			p.summary.SkippedVersions++
			logging.Trace("version without crate", "version", row.id, "row", t.row)
			return nil
		}

		p.versionToCrate[row.id] = row.crateID
		p.summary.Versions++
		return nil
	})
}

// dependencies is phase 3: resolve both ends of each row and record the
// edge on the depending crate
func (p *pipeline) dependencies(r io.Reader) error {
	t, err := newTableReader(TableDependencies, r, "crate_id", "version_id")
	if err != nil {
		return err
	}

	unresolved := func(format string, args ...any) *RowError {
		return &RowError{
			Table: TableDependencies,
			Row:   t.row,
			Err:   fmt.Errorf("%w: %s", ErrUnresolvedForeignKey, fmt.Sprintf(format, args...)),
		}
	}

	return p.rows(t, func(rec []string) error {
		row, err := t.dependency(rec)
		if err != nil {
			return err
		}
		p.summary.DependencyRows++

		targetID, ok := p.versionToCrate[row.versionID]
		if !ok {
			return unresolved("version %d not found", row.versionID)
		}
		name, ok := p.idToName[row.crateID]
		if !ok {
			return unresolved("crate %d not found", row.crateID)
		}
		targetName, ok := p.idToName[targetID]
		if !ok {
			return unresolved("crate %d (from version %d) not found", targetID, row.versionID)
		}

		crate, ok := p.reg.GetWithBothKeys(name, row.crateID)
		if !ok {
			return unresolved("crate %s/%d not in registry", name, row.crateID)
		}

		replaced, err := crate.AddEdge(targetName, model.Edge{
			TargetID:    targetID,
			Requirement: row.req,
			Kind:        row.kind,
			Optional:    row.optional,
		})
		if err != nil {
			return fmt.Errorf("%s row %d: %w", TableDependencies, t.row, err)
		}
		if replaced {
			p.summary.DuplicateEdges++
		} else {
			p.summary.Edges++
		}
		return nil
	})
}
