package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ritzau/crate-deps/pkg/model"
)

// tableReader decodes a CSV member by header name
type tableReader struct {
	table Table
	csv   *csv.Reader
	cols  map[string]int
	row   int
}

func newTableReader(table Table, r io.Reader, required ...string) (*tableReader, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: %w: empty table", table, ErrRowMalformed)
		}
		return nil, fmt.Errorf("%s: %w: header: %v", table, ErrArchiveUnreadable, err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%s: %w: missing column %q", table, ErrRowMalformed, name)
		}
	}

	return &tableReader{table: table, csv: cr, cols: cols}, nil
}

// next returns the next record. A decode problem confined to the row comes
// back as a *RowError wrapping ErrRowMalformed; a failing stream is fatal.
func (t *tableReader) next() ([]string, error) {
	rec, err := t.csv.Read()
	if err == nil {
		t.row++
		return rec, nil
	}
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}

	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		t.row++
		return nil, t.malformed("%v", parseErr.Err)
	}
	return nil, fmt.Errorf("%s: %w: %v", t.table, ErrArchiveUnreadable, err)
}

func (t *tableReader) malformed(format string, args ...any) *RowError {
	return &RowError{
		Table: t.table,
		Row:   t.row,
		Err:   fmt.Errorf("%w: %s", ErrRowMalformed, fmt.Sprintf(format, args...)),
	}
}

// field returns the named column, or "" when the table lacks it
func (t *tableReader) field(rec []string, name string) string {
	i, ok := t.cols[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func (t *tableReader) uint32Field(rec []string, name string) (uint32, error) {
	raw := strings.TrimSpace(t.field(rec, name))
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, t.malformed("column %s: %q is not a u32", name, raw)
	}
	return uint32(v), nil
}

type crateRow struct {
	id   uint32
	name string
	meta model.Metadata
}

func (t *tableReader) crate(rec []string) (crateRow, error) {
	id, err := t.uint32Field(rec, "id")
	if err != nil {
		return crateRow{}, err
	}
	name := strings.TrimSpace(t.field(rec, "name"))
	if name == "" {
		return crateRow{}, t.malformed("column name is empty")
	}

	return crateRow{
		id:   id,
		name: name,
		meta: model.Metadata{
			CreatedAt:     t.field(rec, "created_at"),
			UpdatedAt:     t.field(rec, "updated_at"),
			Description:   t.field(rec, "description"),
			Homepage:      t.field(rec, "homepage"),
			Documentation: t.field(rec, "documentation"),
			Repository:    t.field(rec, "repository"),
		},
	}, nil
}

type versionRow struct {
	id       uint32
	crateID  uint32
	hasCrate bool
}

func (t *tableReader) version(rec []string) (versionRow, error) {
	id, err := t.uint32Field(rec, "id")
	if err != nil {
		return versionRow{}, err
	}
	if strings.TrimSpace(t.field(rec, "crate_id")) == "" {
		return versionRow{id: id}, nil
	}
	crateID, err := t.uint32Field(rec, "crate_id")
	if err != nil {
		return versionRow{}, err
	}
	return versionRow{id: id, crateID: crateID, hasCrate: true}, nil
}

type dependencyRow struct {
	crateID   uint32
	versionID uint32
	req       string
	kind      model.DependencyKind
	optional  bool
}

func (t *tableReader) dependency(rec []string) (dependencyRow, error) {
	crateID, err := t.uint32Field(rec, "crate_id")
	if err != nil {
		return dependencyRow{}, err
	}
	versionID, err := t.uint32Field(rec, "version_id")
	if err != nil {
		return dependencyRow{}, err
	}

	row := dependencyRow{
		crateID:   crateID,
		versionID: versionID,
		req:       strings.TrimSpace(t.field(rec, "req")),
	}

	if raw := strings.TrimSpace(t.field(rec, "kind")); raw != "" {
		kind, err := strconv.ParseUint(raw, 10, 8)
		if err != nil || kind > uint64(model.DependencyDev) {
			return dependencyRow{}, t.malformed("column kind: %q is not a dependency kind", raw)
		}
		row.kind = model.DependencyKind(kind)
	}

	optional, ok := parseFlag(t.field(rec, "optional"))
	if !ok {
		return dependencyRow{}, t.malformed("column optional: %q is not a boolean", t.field(rec, "optional"))
	}
	row.optional = optional

	return row, nil
}

// parseFlag accepts the boolean spellings found in database dumps
func parseFlag(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "f", "false", "0":
		return false, true
	case "t", "true", "1":
		return true, true
	default:
		return false, false
	}
}
