package engine

import (
	"context"
	"os"
	"path/filepath"

	"github.com/aurora-linux/aurora/internal/logger"
	"github.com/aurora-linux/aurora/pkg/archive"
	"github.com/aurora-linux/aurora/pkg/config"
	"github.com/aurora-linux/aurora/pkg/crypto"
	"github.com/aurora-linux/aurora/pkg/database"
	"github.com/aurora-linux/aurora/pkg/download"
	"github.com/aurora-linux/aurora/pkg/errors"
	"github.com/aurora-linux/aurora/pkg/hooks"
	"github.com/aurora-linux/aurora/pkg/index"
	"github.com/aurora-linux/aurora/pkg/model"
	"github.com/aurora-linux/aurora/pkg/resolver"
)

// Engine drives install, remove and upgrade transactions against a target
// root. All paths and flags are captured at construction and immutable for
// the engine's lifetime; exactly one transaction may execute at a time,
// enforced by a system-wide advisory lock.
type Engine struct {
	root       string
	cacheDir   string
	dbPath     string
	lockPath   string
	keyDir     string
	skipCrypto bool

	store     database.Store
	fetcher   Fetcher
	extractor Extractor
	sandbox   ScriptRunner
}

// New constructs an engine rooted at root (normally "/"; redirected for
// bootstrap installs).
func New(root string, opts Options) (*Engine, error) {
	if root == "" {
		root = "/"
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve target root %s", root)
	}

	e := &Engine{
		root:       absRoot,
		cacheDir:   filepath.Join(absRoot, filepath.FromSlash(cacheRelPath)),
		dbPath:     filepath.Join(absRoot, filepath.FromSlash(dbRelPath)),
		lockPath:   filepath.Join(absRoot, filepath.FromSlash(lockRelPath)),
		keyDir:     filepath.Join(absRoot, filepath.FromSlash(keyRelPath)),
		skipCrypto: opts.SkipCrypto,
		store:      opts.Store,
		fetcher:    opts.Fetcher,
		extractor:  opts.Extractor,
		sandbox:    opts.Sandbox,
	}

	if err := os.MkdirAll(e.cacheDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "cannot create cache directory")
	}
	if err := os.MkdirAll(filepath.Dir(e.dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "cannot create state directory")
	}

	if e.store == nil {
		store, err := database.Open(e.dbPath)
		if err != nil {
			return nil, err
		}
		e.store = store
	}
	if e.fetcher == nil {
		e.fetcher = download.NewManager(opts.HTTPTimeout, "")
	}
	if e.extractor == nil {
		e.extractor = archive.NewManager()
	}
	if e.sandbox == nil {
		e.sandbox = hooks.NewSandbox()
	}
	return e, nil
}

// Root returns the target root the engine operates on.
func (e *Engine) Root() string { return e.root }

// Store exposes the installed-state store for read-only front-end use.
func (e *Engine) Store() database.Store { return e.store }

// Close releases the engine's resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Sync refreshes the repository package collection from all configured
// repositories.
func (e *Engine) Sync(ctx context.Context) error {
	unlock, err := e.lockTx()
	if err != nil {
		return err
	}
	defer unlock()
	return e.syncRepos(ctx)
}

// syncRepos downloads, verifies and parses every configured repository index
// and replaces the repo collection. A repository that fails to download,
// verify or parse is skipped; the collection is only rewritten when every
// repository succeeded, and the error reports the partial failure.
func (e *Engine) syncRepos(ctx context.Context) error {
	repos, err := config.LoadRepositories(config.ReposConfPath(e.root))
	if err != nil {
		return err
	}

	merged := make(map[string]model.Package)
	allOK := true

	for _, repo := range repos {
		if len(repo.URLs) == 0 {
			logger.Warnf("repository %s has no mirrors defined, skipping", repo.Name)
			continue
		}
		pkgs, err := e.syncOneRepo(ctx, repo)
		if err != nil {
			logger.Error("repository sync failed", logger.Fields{
				"repository": repo.Name,
				"error":      err.Error(),
			})
			allOK = false
			continue
		}
		// Last-wins when a name appears in multiple repositories.
		for i := range pkgs {
			merged[pkgs[i].Name] = pkgs[i]
		}
	}

	if allOK && len(merged) > 0 {
		all := make([]model.Package, 0, len(merged))
		for _, pkg := range merged {
			all = append(all, pkg)
		}
		if err := e.store.ReplaceRepoPackages(all); err != nil {
			return err
		}
		logger.Infof("synced %d packages to local database", len(all))
	}

	if !allOK {
		return errors.Wrap(errors.ErrSyncFailed, "one or more repositories could not be synchronized")
	}
	return nil
}

func (e *Engine) syncOneRepo(ctx context.Context, repo config.Repository) ([]model.Package, error) {
	logger.Infof("updating repository %s", repo.Name)

	tmpDir, err := os.MkdirTemp("", "aurora-sync-*")
	if err != nil {
		return nil, errors.Wrap(err, "cannot create temporary directory")
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	idxPath := filepath.Join(tmpDir, IndexFileName)
	sigPath := filepath.Join(tmpDir, IndexSigFileName)

	idxURLs := make([]string, 0, len(repo.URLs))
	sigURLs := make([]string, 0, len(repo.URLs))
	for _, base := range repo.URLs {
		idxURLs = append(idxURLs, base+"/"+IndexFileName)
		sigURLs = append(sigURLs, base+"/"+IndexSigFileName)
	}

	jobs := []download.Job{{URLs: idxURLs, Dest: idxPath, DisplayName: "index: " + repo.Name}}
	if !e.skipCrypto {
		jobs = append(jobs, download.Job{URLs: sigURLs, Dest: sigPath, DisplayName: "sig: " + repo.Name})
	}
	if err := e.fetcher.FetchAll(ctx, jobs); err != nil {
		return nil, err
	}

	if e.skipCrypto {
		logger.Warnf("skipping authenticity check for repository %s as requested", repo.Name)
	} else {
		if err := crypto.VerifyDetachedSignature(idxPath, sigPath, e.keyDir); err != nil {
			return nil, err
		}
		logger.Infof("repository %s authenticity verified", repo.Name)
	}

	pkgs, err := index.ParseIndexFromFile(idxPath)
	if err != nil {
		return nil, err
	}
	for i := range pkgs {
		pkgs[i].RepoName = repo.Name
	}
	return pkgs, nil
}

// Install resolves, downloads, verifies and installs the named packages along
// with their dependency closure.
func (e *Engine) Install(ctx context.Context, names []string, force bool) error {
	unlock, err := e.lockTx()
	if err != nil {
		return err
	}
	defer unlock()

	plan, err := e.planInstall(names, force)
	if err != nil {
		return err
	}
	if plan.IsEmpty() {
		logger.Info("nothing to do, all packages are already installed")
		return nil
	}
	return e.prepareAndExecute(ctx, plan)
}

// Remove uninstalls the named packages.
func (e *Engine) Remove(ctx context.Context, names []string, force bool) error {
	unlock, err := e.lockTx()
	if err != nil {
		return err
	}
	defer unlock()

	plan, err := e.planRemove(names, force)
	if err != nil {
		return err
	}
	if plan.IsEmpty() {
		logger.Info("nothing to do")
		return nil
	}
	return e.execute(ctx, plan)
}

// Update synchronizes the repositories and upgrades every installed package
// whose repository counterpart is newer.
func (e *Engine) Update(ctx context.Context, force bool) error {
	unlock, err := e.lockTx()
	if err != nil {
		return err
	}
	defer unlock()

	plan, err := e.planUpdate(ctx, force)
	if err != nil {
		return err
	}
	if plan.IsEmpty() {
		logger.Info("system is already up to date")
		return nil
	}
	return e.prepareAndExecute(ctx, plan)
}

// InstallLocal installs package archives from local files, bypassing the
// repositories.
func (e *Engine) InstallLocal(ctx context.Context, files []string, force bool) error {
	unlock, err := e.lockTx()
	if err != nil {
		return err
	}
	defer unlock()

	for _, file := range files {
		absPath, err := filepath.Abs(file)
		if err != nil {
			return errors.Wrapf(err, "cannot resolve %s", file)
		}
		if _, err := os.Stat(absPath); err != nil {
			return errors.Wrapf(errors.ErrFileSystemError, "file not found: %s", absPath)
		}
		if err := e.installLocalOne(ctx, absPath, force); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) installLocalOne(ctx context.Context, archivePath string, force bool) error {
	logger.Infof("installing local package %s", archivePath)

	metaContent, err := e.extractor.ExtractFileToMemory(ctx, archivePath, index.MetaFileName)
	if err != nil {
		return err
	}
	pkg, err := index.ParsePackage(metaContent)
	if err != nil {
		return errors.Wrapf(errors.ErrResolutionFailed, "cannot parse package metadata: %v", err)
	}

	switch {
	case e.skipCrypto:
		logger.Warn("skipping local package integrity check as requested")
	case pkg.Checksum == "":
		logger.Warnf("package %s declares no checksum, integrity not verified", pkg.Name)
	default:
		if err := crypto.VerifyFileChecksum(archivePath, pkg.Checksum); err != nil {
			return err
		}
	}

	installed, err := e.store.ListInstalled()
	if err != nil {
		return err
	}

	if isInstalled(installed, pkg.Name) && !force {
		return errors.Wrapf(errors.ErrPackageAlreadyInstalled, "%s", pkg.Name)
	}
	for _, dep := range pkg.Deps {
		if !dependencySatisfied(installed, dep) && !force {
			return errors.Wrapf(errors.ErrResolutionFailed, "unsatisfied dependency for %s: %s", pkg.Name, dep)
		}
	}
	for _, conflict := range pkg.Conflicts {
		if isInstalled(installed, conflict) && !force {
			return errors.Wrapf(errors.ErrConflictDetected, "%s conflicts with installed package %s", pkg.Name, conflict)
		}
	}

	plan := &model.Transaction{}
	for _, replaced := range pkg.Replaces {
		if target := findInstalled(installed, replaced); target != nil {
			logger.Infof("package %s replaces %s, scheduling it for removal", pkg.Name, replaced)
			plan.ToRemove = append(plan.ToRemove, *target)
		}
	}
	plan.ToInstall = append(plan.ToInstall, model.InstallItem{Metadata: *pkg, ArchivePath: archivePath})

	return e.execute(ctx, plan)
}

// prepareAndExecute runs the space pre-checks and asset preparation, then the
// execution state machine.
func (e *Engine) prepareAndExecute(ctx context.Context, plan *model.Transaction) error {
	jobs, err := e.mirrorJobs(plan)
	if err != nil {
		return err
	}
	if err := e.checkDiskSpace(ctx, plan, jobs); err != nil {
		return err
	}
	if err := e.prepareAssets(ctx, plan, jobs); err != nil {
		return err
	}
	return e.execute(ctx, plan)
}

func isInstalled(installed []model.InstalledPackage, name string) bool {
	return findInstalled(installed, name) != nil
}

func findInstalled(installed []model.InstalledPackage, name string) *model.InstalledPackage {
	for i := range installed {
		if installed[i].Name == name {
			return &installed[i]
		}
	}
	return nil
}

// dependencySatisfied reports whether dep is met by an installed package or
// one of their provisions.
func dependencySatisfied(installed []model.InstalledPackage, dep string) bool {
	for i := range installed {
		if installed[i].Name == dep {
			return true
		}
		for _, provision := range installed[i].Provides {
			if provision == dep {
				return true
			}
		}
	}
	return false
}

// newResolver builds a resolver over the store's current views.
func (e *Engine) newResolver() (*resolver.Resolver, []model.InstalledPackage, []model.Package, error) {
	installed, err := e.store.ListInstalled()
	if err != nil {
		return nil, nil, nil, err
	}
	repoPkgs, err := e.store.ListRepoPackages()
	if err != nil {
		return nil, nil, nil, err
	}
	return resolver.New(installed, repoPkgs), installed, repoPkgs, nil
}
