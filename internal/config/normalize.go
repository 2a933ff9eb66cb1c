package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeApply()
	if err := c.normalizeLocator(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("MESHPATCH_DATA_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.DataDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir()
	}
	var err error
	if c.Paths.DataDir, err = ExpandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = ExpandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeApply() {
	c.Apply.DefaultPolicy = strings.ToLower(strings.TrimSpace(c.Apply.DefaultPolicy))
	if c.Apply.DefaultPolicy == "" {
		c.Apply.DefaultPolicy = defaultApplyPolicy
	}
	if c.Apply.LockTimeoutSeconds <= 0 {
		c.Apply.LockTimeoutSeconds = defaultLockTimeoutSeconds
	}
}

func (c *Config) normalizeLocator() error {
	if value, ok := os.LookupEnv("MESHPATCH_SEARCH_ROOTS"); ok && strings.TrimSpace(value) != "" {
		c.Locator.SearchRoots = filepath.SplitList(value)
	}
	roots := make([]string, 0, len(c.Locator.SearchRoots))
	seen := make(map[string]struct{}, len(c.Locator.SearchRoots))
	for _, root := range c.Locator.SearchRoots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		expanded, err := ExpandPath(strings.TrimSpace(root))
		if err != nil {
			return fmt.Errorf("locator.search_roots: %w", err)
		}
		if _, exists := seen[expanded]; exists {
			continue
		}
		seen[expanded] = struct{}{}
		roots = append(roots, expanded)
	}
	c.Locator.SearchRoots = roots

	exts := make([]string, 0, len(c.Locator.Extensions))
	for _, ext := range c.Locator.Extensions {
		normalized := strings.ToLower(strings.TrimSpace(ext))
		if normalized == "" {
			continue
		}
		if !strings.HasPrefix(normalized, ".") {
			normalized = "." + normalized
		}
		exts = append(exts, normalized)
	}
	if len(exts) == 0 {
		exts = append(exts, defaultExtensions...)
	}
	c.Locator.Extensions = exts

	if strings.TrimSpace(c.Locator.ManifestCachePath) == "" {
		c.Locator.ManifestCachePath = defaultManifestCachePath
	}
	var err error
	if c.Locator.ManifestCachePath, err = ExpandPath(c.Locator.ManifestCachePath); err != nil {
		return fmt.Errorf("locator.manifest_cache_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
