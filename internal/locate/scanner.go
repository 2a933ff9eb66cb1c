package locate

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"meshpatch/internal/config"
	"meshpatch/internal/logging"
	"meshpatch/internal/manifest"
)

// Candidate is a file that may be the base of a derived asset.
type Candidate struct {
	Path string
	Data []byte
}

// Prompter asks the user for a file path. ok is false when the user declines.
type Prompter interface {
	Prompt(ctx context.Context, message string) (path string, ok bool, err error)
}

// Scanner finds base candidates in the configured search roots.
type Scanner struct {
	roots      []string
	extensions map[string]struct{}
	cache      *Cache
	prompter   Prompter
	logger     *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithPrompter lets PromptForFile ask the user when scanning finds nothing.
func WithPrompter(p Prompter) Option {
	return func(s *Scanner) { s.prompter = p }
}

// WithCache replaces the cache loaded from the configured path.
func WithCache(c *Cache) Option {
	return func(s *Scanner) { s.cache = c }
}

// NewScanner builds a scanner from the locator configuration.
func NewScanner(cfg *config.Config, logger *slog.Logger, opts ...Option) *Scanner {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Scanner{
		roots:      append([]string(nil), cfg.Locator.SearchRoots...),
		extensions: make(map[string]struct{}, len(cfg.Locator.Extensions)),
		logger:     logging.NewComponentLogger(logger, "locate"),
	}
	for _, ext := range cfg.Locator.Extensions {
		s.extensions[strings.ToLower(ext)] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewCache(cfg.Locator.ManifestCachePath, logger)
	}
	return s
}

// Cache returns the scanner's manifest cache.
func (s *Scanner) Cache() *Cache { return s.cache }

// FindCandidates returns every file under the search roots whose manifest,
// built at precision, has the ID manifestID. Results are sorted by path.
func (s *Scanner) FindCandidates(ctx context.Context, manifestID string, precision int) ([]Candidate, error) {
	var candidates []Candidate
	seen := make(map[string]struct{})
	parsed := 0

	for _, root := range s.roots {
		if _, err := os.Stat(root); err != nil {
			s.logger.Debug("skipping search root", logging.Path(root), logging.Error(err))
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if walkErr != nil {
				s.logger.Debug("walk error", logging.Path(path), logging.Error(walkErr))
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			name := d.Name()
			if d.IsDir() {
				if path != root && strings.HasPrefix(name, ".") {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !s.wanted(name) {
				return nil
			}
			if _, dup := seen[path]; dup {
				return nil
			}
			seen[path] = struct{}{}

			id, data, fresh, err := s.fingerprint(path, d, precision)
			if err != nil {
				s.logger.Debug("skipping unreadable file", logging.Path(path), logging.Error(err))
				return nil
			}
			if fresh {
				parsed++
			}
			if id != manifestID {
				return nil
			}
			if data == nil {
				if data, err = os.ReadFile(path); err != nil {
					s.logger.Debug("skipping unreadable file", logging.Path(path), logging.Error(err))
					return nil
				}
			}
			candidates = append(candidates, Candidate{Path: path, Data: data})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
	}

	pruned := s.cache.Prune(func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	})
	if err := s.cache.Save(); err != nil {
		logging.WarnWithContext(s.logger, "failed to save manifest cache", "manifest_cache_save_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the next scan re-reads changed files"))
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Path < candidates[j].Path })
	s.logger.Debug("scan complete",
		logging.ManifestID(manifestID),
		logging.Int("candidates", len(candidates)),
		logging.Int("parsed", parsed),
		logging.Int("pruned", pruned))
	return candidates, nil
}

// fingerprint returns the manifest ID of path at precision, from cache when
// the file is unchanged. data is non-nil only when the file was read.
func (s *Scanner) fingerprint(path string, d fs.DirEntry, precision int) (id string, data []byte, fresh bool, err error) {
	info, err := d.Info()
	if err != nil {
		return "", nil, false, err
	}
	if id, ok := s.cache.Lookup(path, info.Size(), info.ModTime(), precision); ok {
		return id, nil, false, nil
	}
	data, err = os.ReadFile(path)
	if err != nil {
		return "", nil, false, err
	}
	m, buildErr := manifest.Build(data, manifest.WithPrecision(precision))
	if buildErr == nil {
		id = m.ID
	} else {
		s.logger.Debug("not a readable model", logging.Path(path), logging.Error(buildErr))
	}
	entry := Entry{Path: path, Size: info.Size(), ModTime: info.ModTime(), Precision: precision, ManifestID: id}
	if err := s.cache.Put(entry); err != nil {
		s.logger.Debug("skipping manifest cache update", logging.Path(path), logging.Error(err))
	}
	return id, data, true, nil
}

func (s *Scanner) wanted(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	_, ok := s.extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// PromptForFile asks the configured prompter for a base file. Without a
// prompter it reports no candidate.
func (s *Scanner) PromptForFile(ctx context.Context) (Candidate, bool, error) {
	if s.prompter == nil {
		return Candidate{}, false, nil
	}
	path, ok, err := s.prompter.Prompt(ctx, "Base model not found. Path to the original file (empty to cancel): ")
	if err != nil || !ok {
		return Candidate{}, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Candidate{}, false, fmt.Errorf("read %s: %w", path, err)
	}
	return Candidate{Path: path, Data: data}, true, nil
}
