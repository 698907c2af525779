// Package model provides the data structures shared by the resolver, the
// stores and the transaction engine: repository packages, installed packages,
// transaction plans and the filesystem journal.
package model

// Package is a repository record. A package is identified by its unique Name
// across the universe of all known repositories; when two repositories carry
// the same name, the one synced last wins.
type Package struct {
	Name          string   `yaml:"name"`
	Version       string   `yaml:"version"`
	Arch          string   `yaml:"arch"`
	Description   string   `yaml:"description,omitempty"`
	InstalledSize int64    `yaml:"installed_size,omitempty"`
	Checksum      string   `yaml:"checksum"`
	RepoName      string   `yaml:"-"`
	Deps          []string `yaml:"deps,omitempty"`
	MakeDeps      []string `yaml:"makedepends,omitempty"`
	Provides      []string `yaml:"provides,omitempty"`
	Conflicts     []string `yaml:"conflicts,omitempty"`
	Replaces      []string `yaml:"replaces,omitempty"`

	// Script references are archive-relative paths to hook files.
	PreInstallScript  string `yaml:"pre_install,omitempty"`
	PostInstallScript string `yaml:"post_install,omitempty"`
	PreRemoveScript   string `yaml:"pre_remove,omitempty"`
	PostRemoveScript  string `yaml:"post_remove,omitempty"`

	// Files is the ordered list of archive-relative paths the package will own
	// once installed.
	Files []string `yaml:"files,omitempty"`
}

// InstalledPackage is a Package as realized on a target root. OwnedFiles is
// the exact set of paths the engine moved into place for this package; it is
// the ground truth used by uninstall and rollback.
type InstalledPackage struct {
	Package

	InstallDate string
	OwnedFiles  []string
}

// InstallItem pairs a package with the local artifact that will be extracted
// for it.
type InstallItem struct {
	Metadata    Package
	ArchivePath string
}

// Transaction is a plan produced by the engine's planning phase. ToInstall is
// topologically ordered: a dependency appears strictly before its dependents.
type Transaction struct {
	ToInstall []InstallItem
	ToRemove  []InstalledPackage
}

// IsEmpty reports whether the transaction has nothing to do.
func (t *Transaction) IsEmpty() bool {
	return len(t.ToInstall) == 0 && len(t.ToRemove) == 0
}

// RemoveNames returns the names of all packages scheduled for removal.
func (t *Transaction) RemoveNames() []string {
	names := make([]string, 0, len(t.ToRemove))
	for _, pkg := range t.ToRemove {
		names = append(names, pkg.Name)
	}
	return names
}

// Journal is the per-transaction, in-memory record of every filesystem
// mutation. It is the only authority consulted by rollback.
type Journal struct {
	// NewFilesCommitted lists absolute paths moved into the target root during
	// this transaction, in creation order.
	NewFilesCommitted []string

	// BackedUpFiles maps an original target-root path to its backup path
	// inside the transaction workspace.
	BackedUpFiles map[string]string
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{BackedUpFiles: make(map[string]string)}
}
