package ingest

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ritzau/crate-deps/pkg/logging"
)

// Table names one of the CSV members of the export
type Table string

const (
	TableCrates       Table = "crates.csv"
	TableVersions     Table = "versions.csv"
	TableDependencies Table = "dependencies.csv"
)

// phaseOrder is the only order the tables can be joined in
var phaseOrder = []Table{TableCrates, TableVersions, TableDependencies}

// memberTable maps an archive path to a table by its final path element
func memberTable(name string) (Table, bool) {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	for _, t := range phaseOrder {
		if base == string(t) {
			return t, true
		}
	}
	return "", false
}

// tableHandler consumes one table member
type tableHandler func(table Table, r io.Reader) error

// walkArchive reads a gzip-compressed tar stream and hands the three tables
// to handle in phase order. A member arriving before its predecessors have
// been handled is spooled to a temporary file and replayed when its turn
// comes.
func walkArchive(ctx context.Context, r io.Reader, spoolDir string, handle tableHandler) error {
	logger := logging.New("ingest.archive")

	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveUnreadable, err)
	}
	defer func() { _ = gz.Close() }()

	spooled := make(map[Table]string)
	defer func() {
		for _, p := range spooled {
			_ = os.Remove(p)
		}
	}()

	next := 0
	drain := func() error {
		for next < len(phaseOrder) {
			p, ok := spooled[phaseOrder[next]]
			if !ok {
				return nil
			}
			if err := replay(p, phaseOrder[next], handle); err != nil {
				return err
			}
			_ = os.Remove(p)
			delete(spooled, phaseOrder[next])
			next++
		}
		return nil
	}

	tr := tar.NewReader(gz)
	for next < len(phaseOrder) {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrArchiveUnreadable, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		table, ok := memberTable(hdr.Name)
		if !ok {
			continue
		}

		idx := phaseIndex(table)
		if _, dup := spooled[table]; idx < next || dup {
			logger.Warn("ignoring repeated table member", "member", hdr.Name)
			continue
		}

		if idx > next {
			p, err := spool(spoolDir, table, tr)
			if err != nil {
				return err
			}
			spooled[table] = p
			logger.Debug("spooled early table member", "member", hdr.Name, "bytes", hdr.Size)
			continue
		}

		logger.Debug("reading table member", "member", hdr.Name, "bytes", hdr.Size)
		if err := handle(table, tr); err != nil {
			return err
		}
		next++
		if err := drain(); err != nil {
			return err
		}
	}

	if next < len(phaseOrder) {
		return fmt.Errorf("%w: %s", ErrMissingTableMember, phaseOrder[next])
	}
	return nil
}

func phaseIndex(table Table) int {
	for i, t := range phaseOrder {
		if t == table {
			return i
		}
	}
	return -1
}

// spool copies a member to a temporary file and returns its path
func spool(dir string, table Table, r io.Reader) (string, error) {
	f, err := os.CreateTemp(dir, "crate-deps-*-"+string(table))
	if err != nil {
		return "", fmt.Errorf("spool %s: %w", table, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("%w: spool %s: %v", ErrArchiveUnreadable, table, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("spool %s: %w", table, err)
	}
	return f.Name(), nil
}

func replay(p string, table Table, handle tableHandler) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("replay %s: %w", table, err)
	}
	defer func() { _ = f.Close() }()

	return handle(table, bufio.NewReaderSize(f, 1<<16))
}
