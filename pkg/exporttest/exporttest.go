// Package exporttest builds small registry export archives for tests.
package exporttest

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// Member is one file inside an export archive
type Member struct {
	Name string
	Body string
}

// Archive returns a gzip-compressed tar holding members in the given order
func Archive(t testing.TB, members ...Member) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, m := range members {
		hdr := &tar.Header{
			Name:     m.Name,
			Mode:     0o644,
			Size:     int64(len(m.Body)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header %s: %v", m.Name, err)
		}
		if _, err := tw.Write([]byte(m.Body)); err != nil {
			t.Fatalf("write body %s: %v", m.Name, err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

// Dump is the three tables of an export in CSV form
type Dump struct {
	Crates       string
	Versions     string
	Dependencies string
}

// Members lays the tables out the way the real dump does, under a dated
// directory
func (d Dump) Members() []Member {
	return []Member{
		{Name: "2024-01-01-020000/data/crates.csv", Body: d.Crates},
		{Name: "2024-01-01-020000/data/versions.csv", Body: d.Versions},
		{Name: "2024-01-01-020000/data/dependencies.csv", Body: d.Dependencies},
	}
}

// Archive returns the dump as a gzip-compressed tar
func (d Dump) Archive(t testing.TB) []byte {
	t.Helper()
	return Archive(t, d.Members()...)
}

// WriteFile writes the dump archive into dir and returns its path
func (d Dump) WriteFile(t testing.TB, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "db-dump.tar.gz")
	if err := os.WriteFile(path, d.Archive(t), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	return path
}

// Diamond is a small dump: a depends on b and c, both depend on d, and d
// depends back on a. Version 40 has no crate and dependency row 6 names a
// missing version.
var Diamond = Dump{
	Crates: "id,name,homepage,description\n" +
		"1,a,https://a.example,first\n" +
		"2,b,,\n" +
		"3,c,,\n" +
		"4,d,,\n",
	Versions: "id,crate_id,num\n" +
		"10,1,1.0.0\n" +
		"20,2,2.1.0\n" +
		"30,3,0.3.0\n" +
		"31,4,1.2.0\n" +
		"40,,0.0.1\n",
	Dependencies: "crate_id,version_id,req,kind,optional\n" +
		"1,20,^2.0,0,f\n" +
		"1,30,^0.3,0,f\n" +
		"2,31,^1.2,0,f\n" +
		"3,31,^1.0,1,t\n" +
		"4,10,^1.0,2,f\n" +
		"4,99,^9.0,0,f\n",
}
