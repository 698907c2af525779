package engine

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/aurora-linux/aurora/internal/logger"
	"github.com/aurora-linux/aurora/pkg/errors"
	"github.com/aurora-linux/aurora/pkg/model"
)

// planInstall builds the install transaction for the requested names:
// dependency resolution, conflict and replaces handling, and the file
// conflict pre-check. Planning has no side effects on disk or database.
func (e *Engine) planInstall(names []string, force bool) (*model.Transaction, error) {
	logger.Info("planning installation transaction")

	res, installed, _, err := e.newResolver()
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		if isInstalled(installed, name) && !force {
			return nil, errors.Wrapf(errors.ErrPackageAlreadyInstalled, "%s", name)
		}
	}

	toInstall, err := res.Resolve(names)
	if err != nil {
		return nil, err
	}
	if len(toInstall) == 0 {
		return &model.Transaction{}, nil
	}

	plan := &model.Transaction{}

	// Replaces: installing a package implicitly removes what it replaces.
	for i := range toInstall {
		for _, replaced := range toInstall[i].Replaces {
			target := findInstalled(installed, replaced)
			if target == nil {
				continue
			}
			if !containsName(plan.RemoveNames(), replaced) {
				logger.Infof("package %s replaces %s, scheduling it for removal", toInstall[i].Name, replaced)
				plan.ToRemove = append(plan.ToRemove, *target)
			}
		}
	}

	// Conflicts against installed packages not scheduled for removal.
	removing := nameSet(plan.RemoveNames())
	for i := range toInstall {
		for _, conflict := range toInstall[i].Conflicts {
			if isInstalled(installed, conflict) && !removing[conflict] && !force {
				return nil, errors.Wrapf(errors.ErrConflictDetected,
					"package %s conflicts with installed package %s", toInstall[i].Name, conflict)
			}
		}
	}

	if err := e.checkFileConflicts(installed, toInstall, removing, force); err != nil {
		return nil, err
	}

	for i := range toInstall {
		plan.ToInstall = append(plan.ToInstall, model.InstallItem{
			Metadata:    toInstall[i],
			ArchivePath: e.artifactCachePath(&toInstall[i]),
		})
	}

	logger.Info("transaction plan created successfully")
	return plan, nil
}

// planRemove builds the removal transaction: every target must be installed
// and must not be required by a package that stays.
func (e *Engine) planRemove(names []string, force bool) (*model.Transaction, error) {
	logger.Info("planning removal transaction")

	installed, err := e.store.ListInstalled()
	if err != nil {
		return nil, err
	}
	targets := nameSet(names)

	plan := &model.Transaction{}
	for _, name := range names {
		target := findInstalled(installed, name)
		if target == nil {
			return nil, errors.Wrapf(errors.ErrPackageNotInstalled, "cannot remove %s", name)
		}
		plan.ToRemove = append(plan.ToRemove, *target)

		for i := range installed {
			if targets[installed[i].Name] {
				continue
			}
			for _, dep := range installed[i].Deps {
				if dep == name && !force {
					return nil, errors.Wrapf(errors.ErrDependencyViolation,
						"cannot remove %s: required by installed package %s", name, installed[i].Name)
				}
			}
		}
	}

	logger.Info("removal plan created successfully")
	return plan, nil
}

// planUpdate synchronizes the repositories and schedules an upgrade for every
// installed package whose repository counterpart compares greater.
func (e *Engine) planUpdate(ctx context.Context, force bool) (*model.Transaction, error) {
	logger.Info("planning system update")

	if err := e.syncRepos(ctx); err != nil {
		return nil, err
	}

	res, installed, _, err := e.newResolver()
	if err != nil {
		return nil, err
	}

	plan := &model.Transaction{}
	targets := make(map[string]model.Package)
	var newDeps []string

	for i := range installed {
		repoPkg, err := e.store.FindRepoPackage(installed[i].Name)
		if err != nil {
			return nil, err
		}
		if repoPkg == nil {
			continue
		}
		cmp, err := model.CompareVersions(repoPkg.Version, installed[i].Version)
		if err != nil {
			logger.Warnf("cannot compare versions for %s: %v", installed[i].Name, err)
			continue
		}
		if cmp > 0 {
			logger.Infof("upgrade found for %s: %s -> %s", installed[i].Name, installed[i].Version, repoPkg.Version)
			plan.ToRemove = append(plan.ToRemove, installed[i])
			targets[repoPkg.Name] = *repoPkg
			newDeps = append(newDeps, repoPkg.Deps...)
		}
	}

	if len(targets) == 0 {
		return plan, nil
	}

	// Resolve only the dependencies of the upgraded packages.
	additions, err := res.Resolve(newDeps)
	if err != nil {
		return nil, err
	}
	for i := range additions {
		targets[additions[i].Name] = additions[i]
	}

	removing := nameSet(plan.RemoveNames())
	ordered := orderTargets(targets)
	if err := e.checkFileConflicts(installed, ordered, removing, force); err != nil {
		return nil, err
	}

	for i := range ordered {
		plan.ToInstall = append(plan.ToInstall, model.InstallItem{
			Metadata:    ordered[i],
			ArchivePath: e.artifactCachePath(&ordered[i]),
		})
	}

	logger.Info("system update plan created successfully")
	return plan, nil
}

// checkFileConflicts enforces that no new file is owned by a surviving
// package and that no unowned file already occupies a needed path.
func (e *Engine) checkFileConflicts(installed []model.InstalledPackage, newPkgs []model.Package, removing map[string]bool, force bool) error {
	logger.Info("checking for file conflicts")

	owned := make(map[string]string)
	for i := range installed {
		for _, file := range installed[i].OwnedFiles {
			owned[file] = installed[i].Name
		}
	}

	for i := range newPkgs {
		for _, file := range newPkgs[i].Files {
			owner, isOwned := owned[file]
			if isOwned {
				if removing[owner] {
					continue
				}
				if !force {
					return errors.Wrapf(errors.ErrFileConflict,
						"package %s wants %s, already owned by %s", newPkgs[i].Name, file, owner)
				}
				continue
			}
			diskPath := filepath.Join(e.root, filepath.FromSlash(file))
			if _, err := os.Lstat(diskPath); err == nil && !force {
				return errors.Wrapf(errors.ErrFileConflict,
					"package %s wants %s, which exists on the filesystem and is not owned by any package",
					newPkgs[i].Name, file)
			}
		}
	}

	logger.Info("no file conflicts found")
	return nil
}

// orderTargets topologically sorts an upgrade target set by the dependency
// edges within the set, so the plan invariant (dependencies first) holds.
func orderTargets(targets map[string]model.Package) []model.Package {
	var ordered []model.Package
	visited := make(map[string]bool)

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		pkg, ok := targets[name]
		if !ok {
			return
		}
		for _, dep := range pkg.Deps {
			visit(dep)
		}
		ordered = append(ordered, pkg)
	}

	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	// Deterministic plan order regardless of map iteration.
	sort.Strings(names)
	for _, name := range names {
		visit(name)
	}
	return ordered
}

func (e *Engine) artifactCachePath(pkg *model.Package) string {
	return filepath.Join(e.cacheDir, pkg.Name+"-"+pkg.Version+PkgExt)
}

func nameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
