// Package blobstore keeps patch payloads as content-addressed files so the
// metadata database stays small. A blob lives at <root>/<aa>/<sha256>.patch
// and is only read when a patch is applied or exported.
package blobstore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"meshpatch/internal/fileutil"
	"meshpatch/internal/logging"
)

const extension = ".patch"

var (
	// ErrNotFound reports a hash with no stored blob.
	ErrNotFound = errors.New("blob not found")
	// ErrIntegrity reports a stored blob whose content no longer matches its name.
	ErrIntegrity = errors.New("blob integrity check failed")
)

// Store is a content-addressed blob directory.
type Store struct {
	root   string
	logger *slog.Logger
}

// New returns a store rooted at dir. The directory is created on first Put.
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{root: dir, logger: logging.NewComponentLogger(logger, "blobstore")}
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Path returns where the blob for hash lives.
func (s *Store) Path(hash string) (string, error) {
	if err := validHash(hash); err != nil {
		return "", err
	}
	return filepath.Join(s.root, hash[:2], hash+extension), nil
}

func validHash(hash string) error {
	if len(hash) != 64 {
		return fmt.Errorf("invalid blob hash %q", hash)
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("invalid blob hash %q", hash)
	}
	return nil
}

// Put stores data and returns its hash. created is false when an identical
// blob was already present.
func (s *Store) Put(data []byte) (hash string, created bool, err error) {
	hash = fileutil.HashBytes(data)
	path, err := s.Path(hash)
	if err != nil {
		return "", false, err
	}
	if fileutil.Exists(path) {
		return hash, false, nil
	}
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", false, fmt.Errorf("store blob: %w", err)
	}
	s.logger.Debug("stored blob",
		logging.String("hash", logging.ShortHash(hash)),
		logging.Int("size_bytes", len(data)))
	return hash, true, nil
}

// Import copies an external file into the store after verifying that its
// content hashes to the expected value.
func (s *Store) Import(src, expectedHash string) error {
	path, err := s.Path(expectedHash)
	if err != nil {
		return err
	}
	actual, _, err := fileutil.HashFile(src)
	if err != nil {
		return fmt.Errorf("hash %s: %w", src, err)
	}
	if actual != expectedHash {
		return fmt.Errorf("%w: %s hashes to %s, expected %s", ErrIntegrity, src, logging.ShortHash(actual), logging.ShortHash(expectedHash))
	}
	if fileutil.Exists(path) {
		return nil
	}
	return fileutil.CopyFileVerified(src, path)
}

// Export copies the blob for hash to dst.
func (s *Store) Export(hash, dst string) error {
	path, err := s.Path(hash)
	if err != nil {
		return err
	}
	if !fileutil.Exists(path) {
		return fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return fileutil.CopyFileVerified(path, dst)
}

// Open returns a reader over the blob without loading it.
func (s *Store) Open(hash string) (io.ReadCloser, error) {
	path, err := s.Path(hash)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return f, err
}

// Get loads the blob and verifies it against its hash.
func (s *Store) Get(hash string) ([]byte, error) {
	rc, err := s.Open(hash)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	if fileutil.HashBytes(data) != hash {
		return nil, fmt.Errorf("%w: %s", ErrIntegrity, hash)
	}
	return data, nil
}

// Has reports whether the blob exists.
func (s *Store) Has(hash string) bool {
	path, err := s.Path(hash)
	return err == nil && fileutil.Exists(path)
}

// Remove deletes the blob. Removing a missing blob is not an error.
func (s *Store) Remove(hash string) error {
	path, err := s.Path(hash)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove blob: %w", err)
	}
	s.logger.Debug("removed blob", logging.String("hash", logging.ShortHash(hash)))
	return nil
}
