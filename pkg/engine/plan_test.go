package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/aurora-linux/aurora/pkg/engine/mocks"
	"github.com/aurora-linux/aurora/pkg/errors"
	"github.com/aurora-linux/aurora/pkg/model"
	"github.com/aurora-linux/aurora/test/testutil"
)

// newBareEngine builds an engine on an empty root without any repository
// wiring; tests seed the store directly.
func newBareEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(t.TempDir(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func seedRepo(t *testing.T, eng *Engine, pkgs ...model.Package) {
	t.Helper()
	require.NoError(t, eng.store.ReplaceRepoPackages(pkgs))
}

func seedInstalled(t *testing.T, eng *Engine, pkgs ...model.InstalledPackage) {
	t.Helper()
	for i := range pkgs {
		require.NoError(t, eng.store.AddInstalled(&pkgs[i]))
	}
}

func repoRecord(name string, deps ...string) model.Package {
	return model.Package{
		Name: name, Version: "1.0", Arch: "x86_64", Checksum: name, RepoName: "core",
		Deps:  deps,
		Files: []string{"usr/bin/" + name},
	}
}

func installedRecord(name string, deps ...string) model.InstalledPackage {
	pkg := repoRecord(name, deps...)
	return model.InstalledPackage{
		Package:     pkg,
		InstallDate: "2026-08-05",
		OwnedFiles:  pkg.Files,
	}
}

func TestPlanInstallAlreadyInstalled(t *testing.T) {
	eng := newBareEngine(t)
	seedInstalled(t, eng, installedRecord("a"))
	seedRepo(t, eng, repoRecord("a"))

	_, err := eng.planInstall([]string{"a"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPackageAlreadyInstalled)

	// force bypasses the precondition; the resolver then filters the
	// already-satisfied name, yielding an empty plan.
	plan, err := eng.planInstall([]string{"a"}, true)
	require.NoError(t, err)
	assert.True(t, plan.IsEmpty())
}

func TestPlanInstallConflictDetected(t *testing.T) {
	eng := newBareEngine(t)
	seedInstalled(t, eng, installedRecord("nano-git"))

	conflicting := repoRecord("nano")
	conflicting.Conflicts = []string{"nano-git"}
	seedRepo(t, eng, conflicting)

	_, err := eng.planInstall([]string{"nano"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConflictDetected)

	_, err = eng.planInstall([]string{"nano"}, true)
	require.NoError(t, err)
}

func TestPlanInstallReplacesSchedulesRemoval(t *testing.T) {
	eng := newBareEngine(t)
	seedInstalled(t, eng, installedRecord("pico"))

	replacing := repoRecord("nano")
	replacing.Replaces = []string{"pico"}
	seedRepo(t, eng, replacing)

	plan, err := eng.planInstall([]string{"nano"}, false)
	require.NoError(t, err)
	require.Len(t, plan.ToRemove, 1)
	assert.Equal(t, "pico", plan.ToRemove[0].Name)
	require.Len(t, plan.ToInstall, 1)
	assert.Equal(t, "nano", plan.ToInstall[0].Metadata.Name)
}

// A conflict with a package scheduled for removal by replaces is allowed.
func TestPlanInstallConflictWithReplacedPackage(t *testing.T) {
	eng := newBareEngine(t)
	seedInstalled(t, eng, installedRecord("pico"))

	replacing := repoRecord("nano")
	replacing.Replaces = []string{"pico"}
	replacing.Conflicts = []string{"pico"}
	seedRepo(t, eng, replacing)

	_, err := eng.planInstall([]string{"nano"}, false)
	require.NoError(t, err)
}

func TestPlanInstallFileConflictOwned(t *testing.T) {
	eng := newBareEngine(t)
	owner := installedRecord("holder")
	owner.OwnedFiles = []string{"usr/bin/shared"}
	seedInstalled(t, eng, owner)

	wanting := repoRecord("newcomer")
	wanting.Files = []string{"usr/bin/shared"}
	seedRepo(t, eng, wanting)

	_, err := eng.planInstall([]string{"newcomer"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrFileConflict)
	assert.Contains(t, err.Error(), "holder")
}

func TestPlanInstallFileConflictUnowned(t *testing.T) {
	eng := newBareEngine(t)

	unowned := filepath.Join(eng.root, "usr", "bin", "squatter")
	require.NoError(t, os.MkdirAll(filepath.Dir(unowned), 0o755))
	require.NoError(t, os.WriteFile(unowned, []byte("not packaged"), 0o644))

	wanting := repoRecord("newcomer")
	wanting.Files = []string{"usr/bin/squatter"}
	seedRepo(t, eng, wanting)

	_, err := eng.planInstall([]string{"newcomer"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrFileConflict)

	// force bypasses the unowned-file conflict.
	_, err = eng.planInstall([]string{"newcomer"}, true)
	require.NoError(t, err)
}

func TestPlanRemoveNotInstalled(t *testing.T) {
	eng := newBareEngine(t)

	_, err := eng.planRemove([]string{"ghost"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPackageNotInstalled)
}

func TestPlanRemoveForceBypassesReverseDeps(t *testing.T) {
	eng := newBareEngine(t)
	seedInstalled(t, eng, installedRecord("a"), installedRecord("b", "a"))

	_, err := eng.planRemove([]string{"a"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDependencyViolation)

	plan, err := eng.planRemove([]string{"a"}, true)
	require.NoError(t, err)
	require.Len(t, plan.ToRemove, 1)
}

// Removing both ends of a dependency edge in one transaction is fine.
func TestPlanRemoveWholeChain(t *testing.T) {
	eng := newBareEngine(t)
	seedInstalled(t, eng, installedRecord("a"), installedRecord("b", "a"))

	plan, err := eng.planRemove([]string{"a", "b"}, false)
	require.NoError(t, err)
	assert.Len(t, plan.ToRemove, 2)
}

func TestInstallDownloadFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	root := t.TempDir()
	testutil.WriteReposConf(t, root, []testutil.RepoConf{
		{Name: "core", URLs: []string{"http://mirror.invalid"}},
	})

	fetcher := mocks.NewMockFetcher(ctrl)
	eng, err := New(root, Options{Fetcher: fetcher})
	require.NoError(t, err)
	defer func() { _ = eng.Close() }()

	seedRepo(t, eng, repoRecord("a"))

	fetcher.EXPECT().TotalDownloadSize(gomock.Any(), gomock.Any()).Return(int64(-1))
	fetcher.EXPECT().FetchAll(gomock.Any(), gomock.Any()).
		Return(errors.Wrap(errors.ErrDownloadFailed, "all mirrors exhausted"))

	err = eng.Install(context.Background(), []string{"a"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDownloadFailed)

	installed, err := eng.store.IsInstalled("a")
	require.NoError(t, err)
	assert.False(t, installed)
}

func TestLockBlocksConcurrentTransactions(t *testing.T) {
	root := t.TempDir()

	eng1, err := New(root, Options{})
	require.NoError(t, err)
	defer func() { _ = eng1.Close() }()

	unlock, err := eng1.lockTx()
	require.NoError(t, err)
	defer unlock()

	// The store is shared: bbolt itself allows only one writer per file.
	eng2, err := New(root, Options{Store: eng1.Store()})
	require.NoError(t, err)

	_, err = eng2.lockTx()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrLockHeld)
}
