package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-linux/aurora/pkg/errors"
	"github.com/aurora-linux/aurora/pkg/model"
	"github.com/aurora-linux/aurora/test/testutil"
)

// testEnv bundles a fake target root, a local repository directory served
// over HTTP, and the trust material wiring them together.
type testEnv struct {
	root    string
	repoDir string
	server  *testutil.Server
	signer  *openpgp.Entity
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		root:    t.TempDir(),
		repoDir: t.TempDir(),
	}
	env.server = testutil.NewServer(t, env.repoDir)
	env.signer = testutil.GenerateSigningKey(t)
	testutil.WriteKeyDir(t, env.root, env.signer)
	testutil.WriteReposConf(t, env.root, []testutil.RepoConf{
		{Name: "core", URLs: []string{env.server.URL}},
	})
	return env
}

func (env *testEnv) newEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(env.root, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func (env *testEnv) publish(t *testing.T, pkgs ...model.Package) {
	t.Helper()
	testutil.WriteRepoIndex(t, env.repoDir, pkgs, env.signer)
}

func (env *testEnv) rootPath(rel string) string {
	return filepath.Join(env.root, filepath.FromSlash(rel))
}

func fileExists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Lstat(path)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("unexpected stat error for %s: %v", path, err)
	}
	return err == nil
}

func requireInstalled(t *testing.T, eng *Engine, name string, want bool) {
	t.Helper()
	installed, err := eng.store.IsInstalled(name)
	require.NoError(t, err)
	require.Equal(t, want, installed, "installed state of %s", name)
}

// S1: a linear dependency chain installs in order and lands both packages.
func TestInstallLinear(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pkgA := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "a", Version: "1.0",
		Files: map[string]string{"usr/bin/a": "binary a"},
	})
	pkgB := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "b", Version: "1.0", Deps: []string{"a"},
		Files: map[string]string{"usr/bin/b": "binary b"},
	})
	env.publish(t, pkgA, pkgB)

	eng := env.newEngine(t)
	require.NoError(t, eng.Sync(ctx))
	require.NoError(t, eng.Install(ctx, []string{"b"}, false))

	requireInstalled(t, eng, "a", true)
	requireInstalled(t, eng, "b", true)
	assert.True(t, fileExists(t, env.rootPath("usr/bin/a")))
	assert.True(t, fileExists(t, env.rootPath("usr/bin/b")))

	got, err := eng.store.GetInstalled("b")
	require.NoError(t, err)
	assert.Contains(t, got.OwnedFiles, "usr/bin/b")
	assert.NotEmpty(t, got.InstallDate)
}

// S2: in a diamond graph the shared dependency comes first, the requested
// package last.
func TestInstallDiamondOrdering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pkgA := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "a", Version: "1.0", Files: map[string]string{"usr/lib/a": "a"},
	})
	pkgB := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "b", Version: "1.0", Deps: []string{"a"}, Files: map[string]string{"usr/lib/b": "b"},
	})
	pkgC := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "c", Version: "1.0", Deps: []string{"a"}, Files: map[string]string{"usr/lib/c": "c"},
	})
	pkgD := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "d", Version: "1.0", Deps: []string{"b", "c"}, Files: map[string]string{"usr/lib/d": "d"},
	})
	env.publish(t, pkgA, pkgB, pkgC, pkgD)

	eng := env.newEngine(t)
	require.NoError(t, eng.Sync(ctx))

	plan, err := eng.planInstall([]string{"d"}, false)
	require.NoError(t, err)
	require.Len(t, plan.ToInstall, 4)
	assert.Equal(t, "a", plan.ToInstall[0].Metadata.Name)
	assert.Equal(t, "d", plan.ToInstall[3].Metadata.Name)

	require.NoError(t, eng.Install(ctx, []string{"d"}, false))
	for _, name := range []string{"a", "b", "c", "d"} {
		requireInstalled(t, eng, name, true)
	}
}

// S3: a dependency cycle aborts planning and writes nothing.
func TestInstallCircularDependency(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Records only; resolution fails before any artifact is needed.
	pkgA := model.Package{Name: "a", Version: "1.0", Arch: "x86_64", Checksum: "aa", Deps: []string{"b"}}
	pkgB := model.Package{Name: "b", Version: "1.0", Arch: "x86_64", Checksum: "bb", Deps: []string{"a"}}
	env.publish(t, pkgA, pkgB)

	eng := env.newEngine(t)
	require.NoError(t, eng.Sync(ctx))

	err := eng.Install(ctx, []string{"a"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrResolutionFailed)

	requireInstalled(t, eng, "a", false)
	requireInstalled(t, eng, "b", false)
	assert.False(t, fileExists(t, env.rootPath("usr")))
}

// S4: a failing pre-install hook rolls the whole transaction back, including
// already-installed dependencies.
func TestInstallRollbackOnScriptletFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pkgA := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "a", Version: "1.0", Files: map[string]string{"usr/bin/a": "a"},
	})
	pkgB := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "b", Version: "1.0", Deps: []string{"a"},
		PreInstall: `err := "refusing to install"`,
		Files:      map[string]string{"usr/bin/b": "b"},
	})
	env.publish(t, pkgA, pkgB)

	eng := env.newEngine(t)
	require.NoError(t, eng.Sync(ctx))

	err := eng.Install(ctx, []string{"b"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrScriptletFailed)

	requireInstalled(t, eng, "a", false)
	requireInstalled(t, eng, "b", false)
	assert.False(t, fileExists(t, env.rootPath("usr/bin/a")))
	assert.False(t, fileExists(t, env.rootPath("usr/bin/b")))

	// The workspace has been deleted.
	entries, err := os.ReadDir(filepath.Join(eng.cacheDir, "tx"))
	if err == nil {
		assert.Empty(t, entries)
	}
}

// S5: removal is refused while a reverse dependency remains installed.
func TestRemoveWithReverseDependency(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pkgA := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "a", Version: "1.0", Files: map[string]string{"usr/bin/a": "a"},
	})
	pkgB := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "b", Version: "1.0", Deps: []string{"a"}, Files: map[string]string{"usr/bin/b": "b"},
	})
	env.publish(t, pkgA, pkgB)

	eng := env.newEngine(t)
	require.NoError(t, eng.Sync(ctx))
	require.NoError(t, eng.Install(ctx, []string{"b"}, false))

	err := eng.Remove(ctx, []string{"a"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDependencyViolation)

	requireInstalled(t, eng, "a", true)
	requireInstalled(t, eng, "b", true)
	assert.True(t, fileExists(t, env.rootPath("usr/bin/a")))
	assert.True(t, fileExists(t, env.rootPath("usr/bin/b")))
}

func TestRemove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pkgA := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "a", Version: "1.0", Files: map[string]string{"usr/bin/a": "a"},
	})
	env.publish(t, pkgA)

	eng := env.newEngine(t)
	require.NoError(t, eng.Sync(ctx))
	require.NoError(t, eng.Install(ctx, []string{"a"}, false))
	require.NoError(t, eng.Remove(ctx, []string{"a"}, false))

	requireInstalled(t, eng, "a", false)
	assert.False(t, fileExists(t, env.rootPath("usr/bin/a")))
}

// S6: an upgrade replaces the old version's files and records the new
// version.
func TestUpdateReplacesFiles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v1 := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "test-pkg", Version: "1.0",
		Files: map[string]string{
			"etc/conf.v1":  "old config",
			"usr/bin/prog": "program v1",
		},
	})
	env.publish(t, v1)

	eng := env.newEngine(t)
	require.NoError(t, eng.Sync(ctx))
	require.NoError(t, eng.Install(ctx, []string{"test-pkg"}, false))

	v2 := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "test-pkg", Version: "2.0",
		Files: map[string]string{
			"etc/conf.v2":  "new config",
			"usr/bin/prog": "program v2",
		},
	})
	env.publish(t, v2)

	require.NoError(t, eng.Update(ctx, false))

	got, err := eng.store.GetInstalled("test-pkg")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2.0", got.Version)

	assert.False(t, fileExists(t, env.rootPath("etc/conf.v1")))
	assert.True(t, fileExists(t, env.rootPath("etc/conf.v2")))
	assert.True(t, fileExists(t, env.rootPath("usr/bin/prog")))

	content, err := os.ReadFile(env.rootPath("usr/bin/prog"))
	require.NoError(t, err)
	assert.Equal(t, "program v2", string(content))
}

func TestUpdateNothingToDo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pkgA := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "a", Version: "1.0", Files: map[string]string{"usr/bin/a": "a"},
	})
	env.publish(t, pkgA)

	eng := env.newEngine(t)
	require.NoError(t, eng.Sync(ctx))
	require.NoError(t, eng.Install(ctx, []string{"a"}, false))
	require.NoError(t, eng.Update(ctx, false))

	got, err := eng.store.GetInstalled("a")
	require.NoError(t, err)
	assert.Equal(t, "1.0", got.Version)
}

// S7: the first mirror 404s the artifact, the second serves it; the install
// succeeds with the second mirror's bytes.
func TestInstallMirrorFallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mirror2 := testutil.NewServer(t, env.repoDir)
	testutil.WriteReposConf(t, env.root, []testutil.RepoConf{
		{Name: "core", URLs: []string{env.server.URL, mirror2.URL}},
	})

	pkgA := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "a", Version: "1.0", Files: map[string]string{"usr/bin/a": "mirrored"},
	})
	env.publish(t, pkgA)

	env.server.FailPath("/a-1.0.pkg.tar.zst", 404)

	eng := env.newEngine(t)
	require.NoError(t, eng.Sync(ctx))
	require.NoError(t, eng.Install(ctx, []string{"a"}, false))

	requireInstalled(t, eng, "a", true)
	assert.True(t, fileExists(t, env.rootPath("usr/bin/a")))
}

// Property 6: a corrupted artifact never reaches the target root.
func TestInstallChecksumMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pkgA := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "a", Version: "1.0", Files: map[string]string{"usr/bin/a": "a"},
	})
	env.publish(t, pkgA)

	eng := env.newEngine(t)
	require.NoError(t, eng.Sync(ctx))

	// Corrupt the artifact after the index was published.
	archivePath := filepath.Join(env.repoDir, "a-1.0.pkg.tar.zst")
	require.NoError(t, os.WriteFile(archivePath, []byte("corrupted bytes"), 0o644))

	err := eng.Install(ctx, []string{"a"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrChecksumMismatch)

	requireInstalled(t, eng, "a", false)
	assert.False(t, fileExists(t, env.rootPath("usr/bin/a")))
	// The rejected artifact was deleted from the cache.
	assert.False(t, fileExists(t, filepath.Join(eng.cacheDir, "a-1.0.pkg.tar.zst")))
}

func TestSyncRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pkgA := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "a", Version: "1.0", Files: map[string]string{"usr/bin/a": "a"},
	})
	// Sign with a key that is not in the trusted directory.
	rogue := testutil.GenerateSigningKey(t)
	testutil.WriteRepoIndex(t, env.repoDir, []model.Package{pkgA}, rogue)

	eng := env.newEngine(t)
	err := eng.Sync(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSyncFailed)

	pkgs, listErr := eng.store.ListRepoPackages()
	require.NoError(t, listErr)
	assert.Empty(t, pkgs)
}

func TestInstallLocal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_ = testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "local-pkg", Version: "1.0",
		PostInstall: `aurora := import("aurora"); aurora.info("installed")`,
		Files:       map[string]string{"opt/local/file": "local content"},
	})
	archivePath := filepath.Join(env.repoDir, "local-pkg-1.0.pkg.tar.zst")

	eng := env.newEngine(t)
	require.NoError(t, eng.InstallLocal(ctx, []string{archivePath}, false))

	requireInstalled(t, eng, "local-pkg", true)
	assert.True(t, fileExists(t, env.rootPath("opt/local/file")))

	// Installing again without force must fail the precondition.
	err := eng.InstallLocal(ctx, []string{archivePath}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPackageAlreadyInstalled)
}

// Pre-remove hooks run from the backup copy; post-remove hooks too. Both must
// execute without blocking the removal.
func TestRemoveRunsHooks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pkgA := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "hooked", Version: "1.0",
		PreRemove:  `aurora := import("aurora"); aurora.info("pre-remove ran")`,
		PostRemove: `aurora := import("aurora"); aurora.warn("post-remove ran")`,
		Files:      map[string]string{"usr/bin/hooked": "x"},
	})
	env.publish(t, pkgA)

	eng := env.newEngine(t)
	require.NoError(t, eng.Sync(ctx))
	require.NoError(t, eng.Install(ctx, []string{"hooked"}, false))
	require.NoError(t, eng.Remove(ctx, []string{"hooked"}, false))

	requireInstalled(t, eng, "hooked", false)
	assert.False(t, fileExists(t, env.rootPath("usr/bin/hooked")))
}

// A failing pre-remove hook aborts the removal and restores every file.
func TestRemoveRollbackOnPreRemoveFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pkgA := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "stubborn", Version: "1.0",
		PreRemove: `err := "service still running"`,
		Files:     map[string]string{"usr/bin/stubborn": "x"},
	})
	env.publish(t, pkgA)

	eng := env.newEngine(t)
	require.NoError(t, eng.Sync(ctx))
	require.NoError(t, eng.Install(ctx, []string{"stubborn"}, false))

	err := eng.Remove(ctx, []string{"stubborn"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrScriptletFailed)

	requireInstalled(t, eng, "stubborn", true)
	assert.True(t, fileExists(t, env.rootPath("usr/bin/stubborn")))
}

// An abandoned workspace from an interrupted transaction is rolled back
// before the next transaction starts.
func TestAbandonedWorkspaceRecovery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pkgA := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "a", Version: "1.0", Files: map[string]string{"usr/bin/a": "a"},
	})
	env.publish(t, pkgA)

	eng := env.newEngine(t)

	// Simulate a crash mid-transaction: a displaced file sits in a leftover
	// backup tree and is gone from the live root.
	backup := filepath.Join(eng.cacheDir, "tx", "12345", "backup", "usr", "bin")
	require.NoError(t, os.MkdirAll(backup, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(backup, "displaced"), []byte("precious"), 0o644))

	require.NoError(t, eng.Sync(ctx))

	restored := env.rootPath("usr/bin/displaced")
	require.True(t, fileExists(t, restored))
	content, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, "precious", string(content))

	assert.False(t, fileExists(t, filepath.Join(eng.cacheDir, "tx", "12345")))
}

// Conservation (property 2), ownership part: after a successful transaction
// no path has two owners.
func TestFileOwnershipIsPartition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pkgA := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "a", Version: "1.0", Files: map[string]string{"usr/bin/a": "a", "usr/share/a.dat": "d"},
	})
	pkgB := testutil.BuildPackage(t, env.repoDir, testutil.PackageSpec{
		Name: "b", Version: "1.0", Files: map[string]string{"usr/bin/b": "b"},
	})
	env.publish(t, pkgA, pkgB)

	eng := env.newEngine(t)
	require.NoError(t, eng.Sync(ctx))
	require.NoError(t, eng.Install(ctx, []string{"a", "b"}, false))

	installed, err := eng.store.ListInstalled()
	require.NoError(t, err)

	owners := make(map[string]string)
	for i := range installed {
		for _, file := range installed[i].OwnedFiles {
			owner, taken := owners[file]
			require.False(t, taken, "path %s owned by both %s and %s", file, owner, installed[i].Name)
			owners[file] = installed[i].Name
		}
	}
}
