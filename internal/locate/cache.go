package locate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"meshpatch/internal/fileutil"
	"meshpatch/internal/logging"
)

// Entry records the manifest ID of one file at one size, mtime and manifest
// precision. An empty ManifestID marks a file that is not a readable model.
type Entry struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mod_time"`
	Precision  int       `json:"precision"`
	ManifestID string    `json:"manifest_id"`
	CachedAt   time.Time `json:"cached_at"`
}

// cacheVersion changes whenever cached manifest IDs stop matching what
// manifest.Build computes; files of another version are discarded.
const cacheVersion = 2

type cacheFile struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// Cache provides thread-safe access to the manifest cache. Changes are kept
// in memory until Save.
type Cache struct {
	path    string
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[string]Entry // keyed by path
	dirty   bool
}

// NewCache creates a cache instance. If path is empty the cache is memory
// only. A corrupt cache file is logged and ignored.
func NewCache(path string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "manifest_cache")

	c := &Cache{
		path:    path,
		logger:  logger,
		entries: make(map[string]Entry),
	}
	if path == "" {
		return c
	}

	if err := c.load(); err != nil {
		logging.WarnWithContext(logger, "failed to load manifest cache", "manifest_cache_load_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "cache will start empty"),
			logging.String(logging.FieldImpact, "the next scan re-reads every model file"))
	}
	return c
}

// Lookup returns the cached manifest ID for path if the file has not changed
// since it was cached and the ID was computed at precision.
func (c *Cache) Lookup(path string, size int64, modTime time.Time, precision int) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, found := c.entries[path]
	if !found || entry.Size != size || !entry.ModTime.Equal(modTime) || entry.Precision != precision {
		return "", false
	}
	return entry.ManifestID, true
}

// Put adds or replaces an entry.
func (c *Cache) Put(entry Entry) error {
	entry.Path = strings.TrimSpace(entry.Path)
	if entry.Path == "" {
		return errors.New("cache entry path cannot be empty")
	}
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Path] = entry
	c.dirty = true
	return nil
}

// Prune drops entries whose path keep rejects and returns how many were dropped.
func (c *Cache) Prune(keep func(path string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for path := range c.entries {
		if !keep(path) {
			delete(c.entries, path)
			removed++
		}
	}
	if removed > 0 {
		c.dirty = true
	}
	return removed
}

// List returns all entries sorted by path.
func (c *Cache) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// Clear removes all entries and persists the empty cache.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.dirty = true
	c.mu.Unlock()

	if err := c.Save(); err != nil {
		return err
	}
	c.logger.Debug("cleared manifest cache")
	return nil
}

// Count returns the number of entries.
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Save writes the cache to disk atomically if it changed since the last save.
func (c *Cache) Save() error {
	if c.path == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	entries := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	data, err := json.MarshalIndent(cacheFile{Version: cacheVersion, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	if err := fileutil.WriteFileAtomic(c.path, data, 0o644); err != nil {
		return fmt.Errorf("persist cache: %w", err)
	}
	c.dirty = false
	return nil
}

func (c *Cache) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read cache file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse cache file: %w", err)
	}
	if file.Version != cacheVersion {
		c.logger.Debug("discarding manifest cache of another version",
			logging.Int("version", file.Version), logging.Path(c.path))
		c.dirty = true
		return nil
	}
	for _, entry := range file.Entries {
		if strings.TrimSpace(entry.Path) != "" {
			c.entries[entry.Path] = entry
		}
	}

	c.logger.Debug("loaded manifest cache",
		logging.Int("entry_count", len(c.entries)),
		logging.Path(c.path))
	return nil
}
