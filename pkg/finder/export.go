package finder

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrNoExport is returned when a directory holds no export archive
var ErrNoExport = errors.New("no export archive found")

// IsExport reports whether a file name looks like a registry export
func IsExport(name string) bool {
	return strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz")
}

// FindExport resolves path to an export archive. A file, or a path that does
// not exist yet, is returned unchanged so a snapshot can still serve it. A
// directory is searched and the most recently modified archive wins.
func FindExport(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return path, nil
	}

	archives, err := FindExports(path)
	if err != nil {
		return "", err
	}
	if len(archives) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoExport, path)
	}
	return archives[0], nil
}

// FindExports walks dir and returns all export archives, newest first,
// skipping hidden directories
func FindExports(dir string) ([]string, error) {
	type candidate struct {
		path    string
		modTime int64
	}
	var found []candidate

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if !IsExport(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		found = append(found, candidate{path: path, modTime: info.ModTime().UnixNano()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Newest first; dated dump names break ties
	slices.SortFunc(found, func(a, b candidate) int {
		if c := cmp.Compare(b.modTime, a.modTime); c != 0 {
			return c
		}
		return cmp.Compare(b.path, a.path)
	})

	paths := make([]string, len(found))
	for i, c := range found {
		paths[i] = c.path
	}
	return paths, nil
}
