package testutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/aurora-linux/aurora/pkg/archive"
	"github.com/aurora-linux/aurora/pkg/crypto"
	"github.com/aurora-linux/aurora/pkg/index"
	"github.com/aurora-linux/aurora/pkg/model"
)

// PackageSpec describes a fixture package to build.
type PackageSpec struct {
	Name          string
	Version       string
	Arch          string
	Description   string
	InstalledSize int64
	Deps          []string
	Provides      []string
	Conflicts     []string
	Replaces      []string

	// Script contents; empty means no hook of that kind.
	PreInstall  string
	PostInstall string
	PreRemove   string
	PostRemove  string

	// Files maps archive-relative payload paths to their content.
	Files map[string]string
}

// BuildPackage creates a package archive under repoDir and returns the
// repository record describing it, checksum included.
func BuildPackage(t *testing.T, repoDir string, spec PackageSpec) model.Package {
	t.Helper()

	if spec.Arch == "" {
		spec.Arch = "x86_64"
	}

	stage := t.TempDir()
	var files []string
	for rel, content := range spec.Files {
		writeFile(t, filepath.Join(stage, filepath.FromSlash(rel)), content)
		files = append(files, rel)
	}

	pkg := model.Package{
		Name:          spec.Name,
		Version:       spec.Version,
		Arch:          spec.Arch,
		Description:   spec.Description,
		InstalledSize: spec.InstalledSize,
		Deps:          spec.Deps,
		Provides:      spec.Provides,
		Conflicts:     spec.Conflicts,
		Replaces:      spec.Replaces,
	}

	for hook, content := range map[string]string{
		"pre_install":  spec.PreInstall,
		"post_install": spec.PostInstall,
		"pre_remove":   spec.PreRemove,
		"post_remove":  spec.PostRemove,
	} {
		if content == "" {
			continue
		}
		rel := "scripts/" + spec.Name + "-" + hook + ".tengo"
		writeFile(t, filepath.Join(stage, filepath.FromSlash(rel)), content)
		files = append(files, rel)
		switch hook {
		case "pre_install":
			pkg.PreInstallScript = rel
		case "post_install":
			pkg.PostInstallScript = rel
		case "pre_remove":
			pkg.PreRemoveScript = rel
		case "post_remove":
			pkg.PostRemoveScript = rel
		}
	}
	pkg.Files = files

	meta, err := yaml.Marshal(&pkg)
	require.NoError(t, err)
	writeFile(t, filepath.Join(stage, index.MetaFileName), string(meta))

	require.NoError(t, os.MkdirAll(repoDir, 0o755))
	archivePath := filepath.Join(repoDir, spec.Name+"-"+spec.Version+".pkg.tar.zst")
	require.NoError(t, archive.NewManager().Create(context.Background(), stage, archivePath))

	checksum, err := crypto.ChecksumFile(archivePath)
	require.NoError(t, err)
	pkg.Checksum = checksum
	return pkg
}

// WriteRepoIndex writes repo.yaml (and its detached signature when a signer
// is given) into repoDir.
func WriteRepoIndex(t *testing.T, repoDir string, pkgs []model.Package, signer *openpgp.Entity) {
	t.Helper()

	data, err := yaml.Marshal(pkgs)
	require.NoError(t, err)
	idxPath := filepath.Join(repoDir, "repo.yaml")
	require.NoError(t, os.WriteFile(idxPath, data, 0o644))

	if signer == nil {
		return
	}
	var sig bytes.Buffer
	require.NoError(t, openpgp.DetachSign(&sig, signer, bytes.NewReader(data), nil))
	require.NoError(t, os.WriteFile(idxPath+".sig", sig.Bytes(), 0o644))
}

// GenerateSigningKey creates a fresh OpenPGP signing key for tests.
func GenerateSigningKey(t *testing.T) *openpgp.Entity {
	t.Helper()
	entity, err := openpgp.NewEntity("Aurora Test", "", "test@aurora.invalid", nil)
	require.NoError(t, err)
	return entity
}

// WriteKeyDir installs the entity's public key into the trusted key directory
// under root.
func WriteKeyDir(t *testing.T, root string, entity *openpgp.Entity) {
	t.Helper()
	keyDir := filepath.Join(root, "etc", "aurora", "keys")
	require.NoError(t, os.MkdirAll(keyDir, 0o755))

	var buf bytes.Buffer
	require.NoError(t, entity.Serialize(&buf))
	require.NoError(t, os.WriteFile(filepath.Join(keyDir, "test.gpg"), buf.Bytes(), 0o644))
}

// RepoConf is one repository entry for WriteReposConf.
type RepoConf struct {
	Name string
	URLs []string
}

// WriteReposConf writes the repositories configuration file under root. Each
// entry maps a repository name to its mirror base URLs in order.
func WriteReposConf(t *testing.T, root string, repos []RepoConf) {
	t.Helper()

	var b strings.Builder
	b.WriteString("# aurora repositories\n")
	for _, repo := range repos {
		b.WriteString("[" + repo.Name + "]\n")
		for _, url := range repo.URLs {
			b.WriteString("url = " + url + "\n")
		}
	}

	confPath := filepath.Join(root, "etc", "aurora", "repos.conf")
	require.NoError(t, os.MkdirAll(filepath.Dir(confPath), 0o755))
	require.NoError(t, os.WriteFile(confPath, []byte(b.String()), 0o644))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
