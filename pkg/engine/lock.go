package engine

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/aurora-linux/aurora/internal/logger"
	"github.com/aurora-linux/aurora/pkg/errors"
)

// lockTx acquires the system-wide advisory lock and recovers any abandoned
// transaction workspaces before a new mutation may begin. Concurrent
// attempts fail fast with ErrLockHeld.
func (e *Engine) lockTx() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(e.lockPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "cannot create lock directory")
	}

	lock := flock.New(e.lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrapf(errors.ErrFileSystemError, "cannot acquire lock %s: %v", e.lockPath, err)
	}
	if !locked {
		return nil, errors.Wrapf(errors.ErrLockHeld, "lock file %s is held", e.lockPath)
	}

	if err := e.recoverAbandonedWorkspaces(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return func() { _ = lock.Unlock() }, nil
}

// recoverAbandonedWorkspaces resumes the rollback of transactions that were
// interrupted mid-flight: whatever sits in a leftover backup tree is moved
// back into the target root (unless the live path reappeared meanwhile), then
// the workspace is deleted.
func (e *Engine) recoverAbandonedWorkspaces() error {
	txRoot := filepath.Join(e.cacheDir, "tx")
	entries, err := os.ReadDir(txRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(errors.ErrFileSystemError, "cannot inspect %s: %v", txRoot, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		workspace := filepath.Join(txRoot, entry.Name())
		logger.Warnf("found abandoned transaction workspace %s, resuming rollback", entry.Name())

		backupDir := filepath.Join(workspace, "backup")
		if err := e.restoreBackupTree(backupDir); err != nil {
			return err
		}
		if err := os.RemoveAll(workspace); err != nil {
			return errors.Wrapf(errors.ErrFileSystemError, "cannot delete workspace %s: %v", workspace, err)
		}
	}
	return nil
}

func (e *Engine) restoreBackupTree(backupDir string) error {
	if _, err := os.Stat(backupDir); err != nil {
		return nil
	}

	return filepath.WalkDir(backupDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Wrapf(errors.ErrFileSystemError, "cannot walk backup tree: %v", err)
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(backupDir, path)
		if err != nil {
			return errors.Wrapf(errors.ErrFileSystemError, "cannot relativize %s: %v", path, err)
		}
		original := filepath.Join(e.root, rel)
		if _, err := os.Lstat(original); err == nil {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(original), 0o755); err != nil {
			return errors.Wrapf(errors.ErrFileSystemError, "cannot recreate directory for %s: %v", original, err)
		}
		if err := os.Rename(path, original); err != nil {
			return errors.Wrapf(errors.ErrFileSystemError, "cannot restore %s: %v", original, err)
		}
		return nil
	})
}
