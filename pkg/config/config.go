package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/ritzau/crate-deps/pkg/analysis"
	"github.com/ritzau/crate-deps/pkg/finder"
)

// DefaultFile is the optional config file read from the working directory
const DefaultFile = "crate-deps.toml"

// EnvPrefix prefixes environment overrides (e.g. CRATE_DEPS_PORT=9090)
const EnvPrefix = "CRATE_DEPS_"

// Config holds all configuration for the application
type Config struct {
	Export            string `koanf:"export"`
	Cache             string `koanf:"cache"`
	Fresh             bool   `koanf:"fresh"`
	MaxMalformed      int    `koanf:"max-malformed"`
	SpoolDir          string `koanf:"spool-dir"`
	FallbackOnCorrupt bool   `koanf:"fallback-on-corrupt"`
	Port              int    `koanf:"port"`
	Watch             bool   `koanf:"watch"`
	Verbosity         string `koanf:"verbosity"`
	VerboseCnt        int    `koanf:"verbose"`
	JSONLogs          bool   `koanf:"json-logs"`
}

// Defaults returns the lowest-priority configuration layer
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"export":              "db-dump.tar.gz",
		"cache":               DefaultCachePath(),
		"fresh":               false,
		"max-malformed":       100,
		"spool-dir":           "",
		"fallback-on-corrupt": true,
		"port":                8080,
		"watch":               false,
		"verbosity":           "",
		"verbose":             0,
		"json-logs":           false,
	}
}

// DefaultCachePath places the snapshot in the user cache directory
func DefaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".crate-deps", "registry.snap")
	}
	return filepath.Join(dir, "crate-deps", "registry.snap")
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	return LoadFrom(DefaultFile, f)
}

// LoadFrom is Load with an explicit config file path
func LoadFrom(path string, f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(makeMapProvider(Defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config File (optional)
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	// 3. Environment Variables
	// CRATE_DEPS_MAX_MALFORMED sets max-malformed
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", "-")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if f != nil {
		if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// Unmarshal into struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate rejects settings no command can run with
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Export) == "" {
		return fmt.Errorf("export path must not be empty")
	}
	if c.MaxMalformed < 0 {
		return fmt.Errorf("max-malformed must not be negative, got %d", c.MaxMalformed)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	return nil
}

// ExportPath resolves the export setting to an archive file. A directory is
// searched for the newest dump inside it.
func (c *Config) ExportPath() (string, error) {
	return finder.FindExport(c.Export)
}

// AnalysisOptions maps the configuration onto the core options
func (c *Config) AnalysisOptions() (analysis.Options, error) {
	exportPath, err := c.ExportPath()
	if err != nil {
		return analysis.Options{}, err
	}
	return analysis.Options{
		ExportPath:        exportPath,
		CachePath:         c.Cache,
		Fresh:             c.Fresh,
		MaxMalformedRows:  c.MaxMalformed,
		SpoolDir:          c.SpoolDir,
		FallbackOnCorrupt: c.FallbackOnCorrupt,
	}, nil
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
