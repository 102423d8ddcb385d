// Package snapshot persists a Registry so later runs can skip ingestion.
//
// File layout:
//
//	magic   [4]byte  "CRDS"
//	version uint16   big endian
//	crc     uint32   CRC-32 (IEEE) of payload
//	length  uint64   payload bytes
//	payload          zstd-compressed gob stream: header, then one record per crate
package snapshot

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/ritzau/crate-deps/pkg/logging"
	"github.com/ritzau/crate-deps/pkg/model"
)

// FormatVersion is bumped whenever the record layout changes
const FormatVersion uint16 = 1

var magic = [4]byte{'C', 'R', 'D', 'S'}

const headerSize = 4 + 2 + 4 + 8

var (
	// ErrCacheCorrupt means a snapshot exists but cannot be trusted.
	ErrCacheCorrupt = errors.New("snapshot corrupt")

	// ErrNoSnapshot means there is no snapshot at the path.
	ErrNoSnapshot = fmt.Errorf("no snapshot: %w", fs.ErrNotExist)

	// ErrCacheWriteFailed means a snapshot could not be written.
	ErrCacheWriteFailed = errors.New("snapshot write failed")
)

type streamHeader struct {
	Crates int
	Edges  int
}

type edgeRecord struct {
	TargetName  string
	TargetID    uint32
	Requirement string
	Kind        model.DependencyKind
	Optional    bool
}

type crateRecord struct {
	ID       uint32
	Name     string
	Metadata model.Metadata
	Edges    []edgeRecord
}

// Store writes reg to path. The file is replaced atomically: a failed write
// leaves any previous snapshot in place.
func Store(path string, reg *model.Registry) error {
	payload, err := encode(reg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheWriteFailed, err)
	}

	header := make([]byte, headerSize)
	copy(header, magic[:])
	binary.BigEndian.PutUint16(header[4:], FormatVersion)
	binary.BigEndian.PutUint32(header[6:], crc32.ChecksumIEEE(payload))
	binary.BigEndian.PutUint64(header[10:], uint64(len(payload)))

	if err := writeAtomic(path, header, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheWriteFailed, err)
	}

	logging.Debug("snapshot stored", "path", path, "crates", reg.Len(), "bytes", headerSize+len(payload))
	return nil
}

func encode(reg *model.Registry) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}

	enc := gob.NewEncoder(zw)
	if err := enc.Encode(streamHeader{Crates: reg.Len(), Edges: reg.EdgeCount()}); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("encode header: %w", err)
	}

	for _, c := range reg.All() {
		rec := crateRecord{ID: c.ID, Name: c.Name, Metadata: c.Metadata}
		if c.Edges != nil {
			rec.Edges = make([]edgeRecord, 0, c.Edges.Len())
			for keys, e := range c.Edges.All() {
				rec.Edges = append(rec.Edges, edgeRecord{
					TargetName:  keys.Primary,
					TargetID:    e.TargetID,
					Requirement: e.Requirement,
					Kind:        e.Kind,
					Optional:    e.Optional,
				})
			}
		}
		if err := enc.Encode(&rec); err != nil {
			_ = zw.Close()
			return nil, fmt.Errorf("encode crate %s: %w", c.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeAtomic(path string, chunks ...[]byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	for _, chunk := range chunks {
		if _, err := tmp.Write(chunk); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write snapshot: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	success = true

	// The rename is only durable once the directory entry is
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("sync snapshot directory: %w", err)
	}
	return nil
}

// syncDir flushes a directory's entries to disk
var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return err
	}
	return d.Close()
}

// Load reads the snapshot at path. A missing file is ErrNoSnapshot; anything
// that fails verification is ErrCacheCorrupt.
func Load(path string) (*model.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, path)
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	payload, err := verify(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheCorrupt, path, err)
	}

	reg, err := decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheCorrupt, path, err)
	}

	logging.Debug("snapshot loaded", "path", path, "crates", reg.Len())
	return reg, nil
}

// verify checks the header and returns the payload
func verify(data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("short file: %d bytes", len(data))
	}
	if !bytes.Equal(data[:4], magic[:]) {
		return nil, fmt.Errorf("bad magic %q", data[:4])
	}
	if v := binary.BigEndian.Uint16(data[4:]); v != FormatVersion {
		return nil, fmt.Errorf("format version %d, want %d", v, FormatVersion)
	}

	sum := binary.BigEndian.Uint32(data[6:])
	length := binary.BigEndian.Uint64(data[10:])
	payload := data[headerSize:]
	if uint64(len(payload)) != length {
		return nil, fmt.Errorf("payload is %d bytes, header says %d", len(payload), length)
	}
	if got := crc32.ChecksumIEEE(payload); got != sum {
		return nil, fmt.Errorf("checksum %08x, header says %08x", got, sum)
	}
	return payload, nil
}

func decode(payload []byte) (*model.Registry, error) {
	zr, err := zstd.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	dec := gob.NewDecoder(zr)
	var header streamHeader
	if err := dec.Decode(&header); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if header.Crates < 0 || header.Edges < 0 {
		return nil, fmt.Errorf("negative counts in header")
	}

	reg := model.NewRegistry(header.Crates)
	edges := 0
	for i := 0; i < header.Crates; i++ {
		var rec crateRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode crate %d of %d: %w", i+1, header.Crates, err)
		}

		c := model.NewCrate(rec.ID, rec.Name, rec.Metadata)
		for _, e := range rec.Edges {
			if _, err := c.AddEdge(e.TargetName, model.Edge{
				TargetID:    e.TargetID,
				Requirement: e.Requirement,
				Kind:        e.Kind,
				Optional:    e.Optional,
			}); err != nil {
				return nil, fmt.Errorf("crate %s: %w", rec.Name, err)
			}
		}
		if err := reg.Add(c); err != nil {
			return nil, err
		}
		edges += c.EdgeCount()
	}

	var extra crateRecord
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after %d crates", header.Crates)
	}
	if edges != header.Edges {
		return nil, fmt.Errorf("decoded %d edges, header says %d", edges, header.Edges)
	}

	// Every edge must name a crate that exists under the same pair
	for _, c := range reg.All() {
		for keys := range c.Edges.All() {
			if !reg.ContainsBothKeys(keys.Primary, keys.Secondary) {
				return nil, fmt.Errorf("crate %s: edge to unknown crate %s/%d", c.Name, keys.Primary, keys.Secondary)
			}
		}
	}
	return reg, nil
}

// Cache binds the snapshot functions to one path
type Cache struct {
	Path string
}

// NewCache returns a cache stored at path
func NewCache(path string) *Cache {
	return &Cache{Path: path}
}

// Load reads the cached registry
func (c *Cache) Load() (*model.Registry, error) {
	return Load(c.Path)
}

// Store replaces the cached registry
func (c *Cache) Store(reg *model.Registry) error {
	return Store(c.Path, reg)
}
