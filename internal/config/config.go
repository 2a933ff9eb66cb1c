package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Matching contains configuration for manifest building and node alignment.
type Matching struct {
	// ConfidenceThreshold is the correspondence confidence below which a map is
	// advisory only and requires explicit confirmation before applying.
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	// FuzzyThreshold is the minimum normalized name similarity for a fuzzy link.
	FuzzyThreshold float64 `toml:"fuzzy_threshold"`
	// TransformPrecision is the number of decimal places kept when hashing
	// node transforms.
	TransformPrecision int `toml:"transform_precision"`
}

// Apply contains configuration for patch application.
type Apply struct {
	DefaultPolicy       string `toml:"default_policy"`
	HideDisabledOutputs bool   `toml:"hide_disabled_outputs"`
	LockTimeoutSeconds  int    `toml:"lock_timeout_seconds"`
}

// Locator contains configuration for finding base files by manifest.
type Locator struct {
	SearchRoots       []string `toml:"search_roots"`
	Extensions        []string `toml:"extensions"`
	ManifestCachePath string   `toml:"manifest_cache_path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for meshpatch.
//
// Configuration sections by subsystem:
//   - Paths: data directory (metadata database, patch blobs) and log directory
//   - Matching: correspondence thresholds and transform hashing precision
//   - Apply: identity policy default, disabled-output handling, lock timeout
//   - Locator: directories scanned when a base must be found by manifest
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Matching Matching `toml:"matching"`
	Apply    Apply    `toml:"apply"`
	Locator  Locator  `toml:"locator"`
	Logging  Logging  `toml:"logging"`
}

const configFileName = "config.toml"

// DefaultConfigPath returns ~/.config/meshpatch/config.toml, expanded.
func DefaultConfigPath() (string, error) {
	return ExpandPath(filepath.Join("~", ".config", "meshpatch", configFileName))
}

// Load reads the config at path, or from the first of the default location
// and ./meshpatch.toml that exists. Missing files leave the defaults in place.
// It returns the config, the path consulted and whether that file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()
	source, exists, err := locate(path)
	if err != nil {
		return nil, "", false, err
	}
	if exists {
		raw, err := os.ReadFile(source)
		if err != nil {
			return nil, "", false, fmt.Errorf("read config %s: %w", source, err)
		}
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", source, err)
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, source, exists, nil
}

func locate(explicit string) (string, bool, error) {
	var candidates []string
	if explicit != "" {
		candidates = []string{explicit}
	} else {
		home, err := DefaultConfigPath()
		if err != nil {
			return "", false, err
		}
		candidates = []string{home, "meshpatch.toml"}
	}
	for _, c := range candidates {
		abs, err := ExpandPath(c)
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(abs)
		switch {
		case err == nil && !info.IsDir():
			return abs, true, nil
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return "", false, fmt.Errorf("stat config: %w", err)
		}
	}
	first, err := ExpandPath(candidates[0])
	return first, false, err
}

// EnsureDirectories creates the data, blob, and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.BlobDir(), c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite metadata database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "meshpatch.db")
}

// BlobDir returns the directory holding content-addressed patch payloads.
func (c *Config) BlobDir() string {
	return filepath.Join(c.Paths.DataDir, "blobs")
}

// ExpandPath resolves a leading "~" to the home directory and returns the
// cleaned absolute path. The empty string is returned unchanged.
func ExpandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", p, err)
	}
	return abs, nil
}

func defaultDataDir() string {
	if base, ok := os.LookupEnv("XDG_DATA_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "meshpatch")
	}
	return defaultDataDirFallback
}

// CreateSample writes the commented sample configuration to path.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}
