package archive

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mholt/archives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-linux/aurora/pkg/errors"
	"github.com/aurora-linux/aurora/pkg/index"
)

func buildSourceTree(t *testing.T) string {
	t.Helper()
	src := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(src, "usr", "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "usr", "bin", "tool"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "usr", "bin", "tool.conf"), []byte("conf"), 0o644))
	require.NoError(t, os.Symlink("tool", filepath.Join(src, "usr", "bin", "tool-link")))
	require.NoError(t, os.WriteFile(filepath.Join(src, index.MetaFileName), []byte("name: tool\n"), 0o644))
	return src
}

func TestCreateAndExtractRoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager()

	src := buildSourceTree(t)
	archivePath := filepath.Join(t.TempDir(), "tool-1.0.pkg.tar.zst")
	require.NoError(t, mgr.Create(ctx, src, archivePath))

	dest := t.TempDir()
	files, err := mgr.Extract(ctx, archivePath, dest)
	require.NoError(t, err)

	// The metadata document is not payload.
	assert.NotContains(t, files, index.MetaFileName)
	assert.Contains(t, files, "usr/bin/tool")
	assert.Contains(t, files, "usr/bin/tool.conf")
	assert.Contains(t, files, "usr/bin/tool-link")

	content, err := os.ReadFile(filepath.Join(dest, "usr", "bin", "tool"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(content))

	info, err := os.Stat(filepath.Join(dest, "usr", "bin", "tool"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	target, err := os.Readlink(filepath.Join(dest, "usr", "bin", "tool-link"))
	require.NoError(t, err)
	assert.Equal(t, "tool", target)
}

func TestExtractFileToMemory(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager()

	src := buildSourceTree(t)
	archivePath := filepath.Join(t.TempDir(), "tool-1.0.pkg.tar.zst")
	require.NoError(t, mgr.Create(ctx, src, archivePath))

	content, err := mgr.ExtractFileToMemory(ctx, archivePath, index.MetaFileName)
	require.NoError(t, err)
	assert.Equal(t, "name: tool\n", string(content))

	_, err = mgr.ExtractFileToMemory(ctx, archivePath, "no/such/entry")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrExtractionFailed)
}

// maliciousArchive writes a tar.zst whose single entry has the given name.
func maliciousArchive(t *testing.T, entryName string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evil.pkg.tar.zst")

	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	zw, err := archives.Zstd{}.OpenWriter(f)
	require.NoError(t, err)
	tw := tar.NewWriter(zw)

	payload := []byte("owned")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     entryName,
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len(payload)),
	}))
	_, err = tw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	return path
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager()

	dest := t.TempDir()
	_, err := mgr.Extract(ctx, maliciousArchive(t, "../escape"), dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrExtractionFailed)

	_, err = os.Stat(filepath.Join(filepath.Dir(dest), "escape"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractRejectsAbsolutePath(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager()

	_, err := mgr.Extract(ctx, maliciousArchive(t, "/etc/passwd"), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrExtractionFailed)
}

func TestExtractMissingArchive(t *testing.T) {
	mgr := NewManager()
	_, err := mgr.Extract(context.Background(), "/nonexistent.pkg.tar.zst", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrExtractionFailed)
}
