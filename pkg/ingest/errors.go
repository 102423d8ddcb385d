package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrArchiveUnreadable means the export could not be opened or decoded
	// as a gzip-compressed tar stream.
	ErrArchiveUnreadable = errors.New("archive unreadable")

	// ErrMissingTableMember means one of the three required tables was not
	// found in the archive.
	ErrMissingTableMember = errors.New("missing table member")

	// ErrRowMalformed marks a row that could not be decoded.
	ErrRowMalformed = errors.New("malformed row")

	// ErrTooManyMalformedRows aborts ingestion once the malformed row count
	// passes the configured limit.
	ErrTooManyMalformedRows = fmt.Errorf("%w: limit exceeded", ErrRowMalformed)

	// ErrUnresolvedForeignKey marks a row whose crate or version reference
	// does not resolve.
	ErrUnresolvedForeignKey = errors.New("unresolved foreign key")
)

// RowError describes a single skipped row
type RowError struct {
	Table Table
	Row   int // 1-based data row, header excluded
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s row %d: %v", e.Table, e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}
