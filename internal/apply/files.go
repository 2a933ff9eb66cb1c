package apply

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"meshpatch/internal/fileutil"
	"meshpatch/internal/logging"
)

const (
	hiddenSuffix   = ".disabled"
	lockRetryDelay = 50 * time.Millisecond
)

func hiddenPath(path string) string { return path + hiddenSuffix }

// LockPath returns the lock file guarding outputPath.
func LockPath(dataDir, outputPath string) string {
	sum := sha256.Sum256([]byte(outputPath))
	return filepath.Join(dataDir, "locks", hex.EncodeToString(sum[:8])+".lock")
}

// lockOutput takes the per-output lock, waiting up to the configured timeout.
func (a *Applicator) lockOutput(ctx context.Context, outputPath string) (func(), error) {
	path := LockPath(a.cfg.Paths.DataDir, outputPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(path)

	timeout := time.Duration(a.cfg.Apply.LockTimeoutSeconds) * time.Second
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("acquire output lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s (waited %s)", ErrLocked, outputPath, timeout)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			a.logger.Warn("failed to release output lock",
				logging.Path(path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "lock_release_failed"),
				logging.String(logging.FieldImpact, "later applies to this output wait for the lock timeout"),
				logging.String(logging.FieldErrorHint, "the lock is released when the process exits"))
		}
	}, nil
}

// moveAside renames an existing file at path to a hidden backup next to it
// and returns the backup path, or "" when nothing was there.
func moveAside(path string) (string, error) {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("inspect existing output: %w", err)
	}
	backup := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".backup-"+uuid.NewString()[:8])
	if err := os.Rename(path, backup); err != nil {
		return "", fmt.Errorf("back up existing output: %w", err)
	}
	return backup, nil
}

// restoreOutput undoes a write to path: the backup comes back, or the new
// file is removed when there was none.
func restoreOutput(path, backup string) error {
	if backup == "" {
		if err := removeIfExists(path); err != nil {
			return fmt.Errorf("remove partial output: %w", err)
		}
		return nil
	}
	if err := os.Rename(backup, path); err != nil {
		return fmt.Errorf("restore previous output from %s: %w", backup, err)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// OriginalPath is where the bytes of a target patched in place by state are
// kept until the state is removed.
func OriginalPath(dataDir, stateID, target string) string {
	return filepath.Join(dataDir, "originals", stateID+filepath.Ext(target))
}

func keepOriginal(target, original string) error {
	if err := os.MkdirAll(filepath.Dir(original), 0o755); err != nil {
		return fmt.Errorf("create originals directory: %w", err)
	}
	if err := fileutil.CopyFileVerified(target, original); err != nil {
		return fmt.Errorf("keep original of %s: %w", target, err)
	}
	return nil
}

// discardOriginal drops an original kept by a failed apply and returns cause.
func discardOriginal(original string, kept bool, cause error) error {
	if !kept {
		return cause
	}
	if err := removeIfExists(original); err != nil {
		return errors.Join(cause, fmt.Errorf("remove kept original: %w", err))
	}
	return cause
}

// restoreOriginal puts the kept original back at path and drops it from the
// data directory.
func restoreOriginal(original, path string) error {
	if !fileutil.Exists(original) {
		return nil
	}
	if err := fileutil.CopyFileVerified(original, path); err != nil {
		return fmt.Errorf("restore original of %s: %w", path, err)
	}
	return removeIfExists(original)
}
