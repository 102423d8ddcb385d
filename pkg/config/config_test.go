package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.String("export", "db-dump.tar.gz", "")
	f.Int("port", 8080, "")
	f.Int("max-malformed", 100, "")
	f.Bool("fresh", false, "")
	if err := f.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return f
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFile)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.toml"), nil)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Export != "db-dump.tar.gz" {
		t.Errorf("Export = %q", cfg.Export)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.MaxMalformed != 100 {
		t.Errorf("MaxMalformed = %d", cfg.MaxMalformed)
	}
	if !cfg.FallbackOnCorrupt {
		t.Error("FallbackOnCorrupt should default to true")
	}
	if cfg.Cache == "" {
		t.Error("Cache should have a default")
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
export = "from-file.tar.gz"
port = 7000
max-malformed = 5
spool-dir = "/var/tmp"
`)
	t.Setenv("CRATE_DEPS_PORT", "9000")
	t.Setenv("CRATE_DEPS_MAX_MALFORMED", "7")

	cfg, err := LoadFrom(path, newFlags(t, "--max-malformed=9"))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"file beats default", cfg.Export, "from-file.tar.gz"},
		{"file beats default", cfg.SpoolDir, "/var/tmp"},
		{"env beats file", cfg.Port, 9000},
		{"flag beats env", cfg.MaxMalformed, 9},
		{"unset flag keeps default", cfg.Fresh, false},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := writeConfig(t, "port = [not toml")

	if _, err := LoadFrom(path, nil); err == nil {
		t.Error("LoadFrom() should fail on an unparsable config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Export: "x.tar.gz", Port: 8080}, false},
		{"empty export", Config{Export: " ", Port: 8080}, true},
		{"negative limit", Config{Export: "x.tar.gz", MaxMalformed: -1}, true},
		{"bad port", Config{Export: "x.tar.gz", Port: 70000}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAnalysisOptions(t *testing.T) {
	cfg := Config{
		Export:            "dump.tar.gz",
		Cache:             "/tmp/registry.snap",
		Fresh:             true,
		MaxMalformed:      3,
		SpoolDir:          "/spool",
		FallbackOnCorrupt: true,
	}

	opts, err := cfg.AnalysisOptions()
	if err != nil {
		t.Fatalf("AnalysisOptions() error = %v", err)
	}
	if opts.ExportPath != "dump.tar.gz" || opts.CachePath != "/tmp/registry.snap" {
		t.Errorf("paths not mapped: %+v", opts)
	}
	if !opts.Fresh || opts.MaxMalformedRows != 3 || opts.SpoolDir != "/spool" || !opts.FallbackOnCorrupt {
		t.Errorf("options not mapped: %+v", opts)
	}
}
