package engine

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aurora-linux/aurora/internal/logger"
	"github.com/aurora-linux/aurora/pkg/errors"
	"github.com/aurora-linux/aurora/pkg/model"
)

// execute drives a planned transaction through the state machine:
// BACKUP -> PRE_REMOVE -> STAGE -> PRE_INSTALL -> COMMIT_FS -> COMMIT_DB ->
// POST_HOOKS. Any failure before the database commit completes funnels
// through rollback, restoring the pre-transaction state.
func (e *Engine) execute(ctx context.Context, plan *model.Transaction) error {
	if plan.IsEmpty() {
		return nil
	}

	txID := strconv.FormatInt(time.Now().UnixNano(), 10)
	workspace := filepath.Join(e.cacheDir, "tx", txID)
	backupDir := filepath.Join(workspace, "backup")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return errors.Wrapf(errors.ErrFileSystemError, "cannot create transaction workspace: %v", err)
	}

	journal := model.NewJournal()
	logger.Info("executing transaction", logger.Fields{"id": txID})

	if err := e.runTransaction(ctx, plan, journal, workspace, backupDir); err != nil {
		logger.Errorf("transaction failed: %v, rolling back filesystem changes", err)
		e.rollback(journal, workspace)
		logger.Info("rollback complete, system restored to original state")
		return err
	}

	if err := os.RemoveAll(workspace); err != nil {
		logger.Warnf("cannot clean up transaction workspace %s: %v", workspace, err)
	}
	logger.Info("transaction completed successfully")
	return nil
}

// runTransaction is the linear chain of transaction steps. Every early return
// before the database commit is undone by the caller's rollback.
func (e *Engine) runTransaction(ctx context.Context, plan *model.Transaction, journal *model.Journal, workspace, backupDir string) error {
	// BACKUP: displace every file owned by a package being removed into the
	// workspace. A rename on the same filesystem is atomic, and the move also
	// removes the file from the live tree.
	for i := range plan.ToRemove {
		for _, file := range plan.ToRemove[i].OwnedFiles {
			src := filepath.Join(e.root, filepath.FromSlash(file))
			backup := filepath.Join(backupDir, filepath.FromSlash(file))

			if _, err := os.Lstat(src); err != nil {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(backup), 0o755); err != nil {
				return errors.Wrapf(errors.ErrFileSystemError, "cannot create backup directory: %v", err)
			}
			if err := os.Rename(src, backup); err != nil {
				return errors.Wrapf(errors.ErrFileSystemError, "cannot back up %s: %v", src, err)
			}
			journal.BackedUpFiles[src] = backup
		}
	}

	// PRE_REMOVE: hooks run from their backup copy; the live tree no longer
	// has them.
	for i := range plan.ToRemove {
		pkg := &plan.ToRemove[i]
		if pkg.PreRemoveScript == "" {
			continue
		}
		script := filepath.Join(backupDir, filepath.FromSlash(pkg.PreRemoveScript))
		if _, err := os.Stat(script); err != nil {
			continue
		}
		if err := e.sandbox.RunScriptFromFile(script, e.root); err != nil {
			return errors.Wrapf(err, "pre-remove script for %s failed", pkg.Name)
		}
	}

	// STAGE + PRE_INSTALL + COMMIT_FS, per package in install order.
	var completed []model.InstalledPackage
	for _, item := range plan.ToInstall {
		pkg := item.Metadata
		staging := filepath.Join(workspace, "staging", pkg.Name)

		_ = os.RemoveAll(staging)
		if err := os.MkdirAll(staging, 0o755); err != nil {
			return errors.Wrapf(errors.ErrFileSystemError, "cannot create staging directory: %v", err)
		}
		files, err := e.extractor.Extract(ctx, item.ArchivePath, staging)
		if err != nil {
			return errors.Wrapf(err, "failed to extract archive for %s", pkg.Name)
		}

		if pkg.PreInstallScript != "" {
			script := filepath.Join(staging, filepath.FromSlash(pkg.PreInstallScript))
			if err := e.sandbox.RunScriptFromFile(script, e.root); err != nil {
				return errors.Wrapf(err, "pre-install script for %s failed", pkg.Name)
			}
		}

		for _, file := range files {
			src := filepath.Join(staging, filepath.FromSlash(file))
			dst := filepath.Join(e.root, filepath.FromSlash(file))

			// Second-chance conflict check against the live tree.
			if _, err := os.Lstat(dst); err == nil {
				return errors.Wrapf(errors.ErrFileConflict, "during execution: %s", dst)
			}
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return errors.Wrapf(errors.ErrFileSystemError, "cannot create directory for %s: %v", dst, err)
			}
			if err := os.Rename(src, dst); err != nil {
				return errors.Wrapf(errors.ErrFileSystemError, "cannot move %s into place: %v", dst, err)
			}
			journal.NewFilesCommitted = append(journal.NewFilesCommitted, dst)
		}
		_ = os.RemoveAll(staging)

		completed = append(completed, model.InstalledPackage{
			Package:     pkg,
			InstallDate: time.Now().Format("2006-01-02"),
			OwnedFiles:  files,
		})
	}

	// COMMIT_DB: the point of no return. One atomic batch applies every
	// addition and removal together.
	logger.Info("committing changes to database")
	if err := e.store.AtomicUpdate(completed, plan.RemoveNames()); err != nil {
		return errors.Wrapf(errors.ErrFileSystemError, "database commit failed: %v", err)
	}

	// POST_HOOKS: state is committed; failures are warnings, never rollback.
	e.runPostHooks(completed, plan, backupDir)
	return nil
}

func (e *Engine) runPostHooks(completed []model.InstalledPackage, plan *model.Transaction, backupDir string) {
	for i := range completed {
		pkg := &completed[i]
		if pkg.PostInstallScript == "" {
			continue
		}
		script := filepath.Join(e.root, filepath.FromSlash(pkg.PostInstallScript))
		if _, err := os.Stat(script); err != nil {
			continue
		}
		if err := e.sandbox.RunScriptFromFile(script, e.root); err != nil {
			logger.Warnf("post-install script for %s failed: %v", pkg.Name, err)
		}
	}

	for i := range plan.ToRemove {
		pkg := &plan.ToRemove[i]
		if pkg.PostRemoveScript == "" {
			continue
		}
		// The script no longer exists on the live tree; run the backup copy.
		script := filepath.Join(backupDir, filepath.FromSlash(pkg.PostRemoveScript))
		if _, err := os.Stat(script); err != nil {
			continue
		}
		if err := e.sandbox.RunScriptFromFile(script, e.root); err != nil {
			logger.Warnf("post-remove script for %s failed: %v", pkg.Name, err)
		}
	}
}

// rollback undoes every journaled filesystem mutation: committed files are
// unlinked in reverse order, then backups are restored, then the workspace is
// deleted.
func (e *Engine) rollback(journal *model.Journal, workspace string) {
	for i := len(journal.NewFilesCommitted) - 1; i >= 0; i-- {
		if err := os.Remove(journal.NewFilesCommitted[i]); err != nil && !os.IsNotExist(err) {
			logger.Warnf("rollback: cannot remove %s: %v", journal.NewFilesCommitted[i], err)
		}
	}

	for original, backup := range journal.BackedUpFiles {
		if _, err := os.Lstat(backup); err != nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(original), 0o755); err != nil {
			logger.Errorf("rollback: cannot recreate directory for %s: %v", original, err)
			continue
		}
		if err := os.Rename(backup, original); err != nil {
			logger.Errorf("rollback: cannot restore %s: %v", original, err)
		}
	}

	if err := os.RemoveAll(workspace); err != nil {
		logger.Warnf("rollback: cannot delete workspace %s: %v", workspace, err)
	}
}
