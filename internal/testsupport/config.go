package testsupport

import (
	"path/filepath"
	"testing"

	"meshpatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Locator.SearchRoots = []string{filepath.Join(base, "corpus")}
	cfgVal.Locator.ManifestCachePath = filepath.Join(base, "cache", "manifests.json")
	cfgVal.Apply.LockTimeoutSeconds = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithConfidenceThreshold overrides the advisory confidence threshold.
func WithConfidenceThreshold(threshold float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Matching.ConfidenceThreshold = threshold
	}
}

// WithHiddenDisabledOutputs makes disabling a state rename its outputs.
func WithHiddenDisabledOutputs() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Apply.HideDisabledOutputs = true
	}
}

// WithSearchRoots replaces the locator search roots.
func WithSearchRoots(roots ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Locator.SearchRoots = roots
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

// CorpusDir returns the default locator search root of a test config.
func CorpusDir(cfg *config.Config) string {
	return filepath.Join(BaseDir(cfg), "corpus")
}

// WithTransformPrecision overrides the manifest transform precision.
func WithTransformPrecision(decimals int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Matching.TransformPrecision = decimals
	}
}
