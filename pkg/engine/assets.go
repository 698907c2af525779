package engine

import (
	"context"
	"os"

	"golang.org/x/sys/unix"

	"github.com/aurora-linux/aurora/internal/logger"
	"github.com/aurora-linux/aurora/pkg/config"
	"github.com/aurora-linux/aurora/pkg/crypto"
	"github.com/aurora-linux/aurora/pkg/download"
	"github.com/aurora-linux/aurora/pkg/errors"
	"github.com/aurora-linux/aurora/pkg/model"
)

// mirrorJobs builds one download job per package to install, combining each
// base URL of the originating repository with the artifact filename.
func (e *Engine) mirrorJobs(plan *model.Transaction) ([]download.Job, error) {
	if len(plan.ToInstall) == 0 {
		return nil, nil
	}

	repos, err := config.LoadRepositories(config.ReposConfPath(e.root))
	if err != nil {
		return nil, err
	}

	jobs := make([]download.Job, 0, len(plan.ToInstall))
	for _, item := range plan.ToInstall {
		pkg := item.Metadata
		repo := config.FindRepository(repos, pkg.RepoName)
		if repo == nil || len(repo.URLs) == 0 {
			return nil, errors.Wrapf(errors.ErrResolutionFailed,
				"cannot find repository URL for repo %q of package %s", pkg.RepoName, pkg.Name)
		}

		filename := pkg.Name + "-" + pkg.Version + PkgExt
		urls := make([]string, 0, len(repo.URLs))
		for _, base := range repo.URLs {
			urls = append(urls, base+"/"+filename)
		}
		jobs = append(jobs, download.Job{
			URLs:        urls,
			Dest:        item.ArchivePath,
			DisplayName: pkg.Name + "-" + pkg.Version,
		})
	}
	return jobs, nil
}

// checkDiskSpace runs the free-space pre-flight: the aggregate announced
// download size against the cache filesystem and the installed-size delta
// against the target root. An unknown download size skips the cache check.
func (e *Engine) checkDiskSpace(ctx context.Context, plan *model.Transaction, jobs []download.Job) error {
	logger.Info("checking available disk space")

	var installDelta int64
	for _, item := range plan.ToInstall {
		installDelta += item.Metadata.InstalledSize
	}
	for i := range plan.ToRemove {
		installDelta -= plan.ToRemove[i].InstalledSize
	}

	downloadSize := int64(-1)
	if len(jobs) > 0 {
		downloadSize = e.fetcher.TotalDownloadSize(ctx, jobs)
	}
	if downloadSize < 0 {
		logger.Debug("aggregate download size unknown, skipping cache space check")
	} else if avail, err := freeSpace(e.cacheDir); err == nil && downloadSize > avail {
		logSpaceError(e.cacheDir, downloadSize, avail)
		return errors.Wrapf(errors.ErrNotEnoughSpace, "cache path %s", e.cacheDir)
	}

	if installDelta > 0 {
		if avail, err := freeSpace(e.root); err == nil && installDelta > avail {
			logSpaceError(e.root, installDelta, avail)
			return errors.Wrapf(errors.ErrNotEnoughSpace, "target root %s", e.root)
		}
	}

	logger.Info("disk space check passed")
	return nil
}

// prepareAssets downloads every artifact of the plan and verifies its
// checksum against the repository-declared value. Artifacts that fail the
// check are deleted.
func (e *Engine) prepareAssets(ctx context.Context, plan *model.Transaction, jobs []download.Job) error {
	if len(plan.ToInstall) == 0 {
		return nil
	}

	logger.Info("downloading transaction assets")
	if err := e.fetcher.FetchAll(ctx, jobs); err != nil {
		logger.Error("one or more downloads failed, aborting transaction")
		return err
	}
	logger.Info("all assets downloaded successfully")

	if e.skipCrypto {
		logger.Warn("skipping all package integrity checks as requested")
		return nil
	}

	logger.Info("verifying package integrity")
	for _, item := range plan.ToInstall {
		if err := crypto.VerifyFileChecksum(item.ArchivePath, item.Metadata.Checksum); err != nil {
			_ = os.Remove(item.ArchivePath)
			logger.Error("integrity check failed, aborting transaction", logger.Fields{
				"package": item.Metadata.Name,
			})
			return err
		}
	}
	return nil
}

func freeSpace(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, errors.Wrapf(err, "cannot stat filesystem of %s", path)
	}
	return int64(stat.Bavail) * stat.Bsize, nil
}

func logSpaceError(path string, required, available int64) {
	toMB := func(bytes int64) int64 { return bytes / (1024 * 1024) }
	logger.Error("not enough free space", logger.Fields{
		"path":         path,
		"required_mb":  toMB(required),
		"available_mb": toMB(available),
	})
}
