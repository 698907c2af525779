// Package index parses repository index documents and per-package metadata
// documents into typed package records.
package index

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aurora-linux/aurora/internal/logger"
	"github.com/aurora-linux/aurora/pkg/errors"
	"github.com/aurora-linux/aurora/pkg/model"
)

// MetaFileName is the name of the metadata document carried at the top level
// of every package archive.
const MetaFileName = ".AURORA_META"

// ParsePackage parses a single package metadata document.
func ParsePackage(data []byte) (*model.Package, error) {
	var pkg model.Package
	if err := yaml.Unmarshal(data, &pkg); err != nil {
		return nil, errors.Wrap(errors.ErrIndexParse, err.Error())
	}
	if err := validate(&pkg, false); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// ParsePackageFromFile parses a package metadata document from a file.
func ParsePackageFromFile(path string) (*model.Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrIndexParse, "cannot read %s: %v", path, err)
	}
	return ParsePackage(data)
}

// ParseIndex parses a repository index: a YAML sequence of package records.
// Invalid entries are skipped with a warning so one bad record does not take
// down the whole repository.
func ParseIndex(data []byte) ([]model.Package, error) {
	var nodes []yaml.Node
	if err := yaml.Unmarshal(data, &nodes); err != nil {
		return nil, errors.Wrap(errors.ErrIndexParse, err.Error())
	}

	packages := make([]model.Package, 0, len(nodes))
	for i := range nodes {
		var pkg model.Package
		if err := nodes[i].Decode(&pkg); err != nil {
			logger.Warnf("skipping invalid package definition in index: %v", err)
			continue
		}
		if err := validate(&pkg, true); err != nil {
			logger.Warnf("skipping invalid package definition in index: %v", err)
			continue
		}
		packages = append(packages, pkg)
	}
	return packages, nil
}

// ParseIndexFromFile parses a repository index from a file.
func ParseIndexFromFile(path string) ([]model.Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrIndexParse, "cannot read %s: %v", path, err)
	}
	return ParseIndex(data)
}

// validate checks required fields. A checksum is mandatory for index entries
// (the engine gates downloads on it) but optional in a standalone metadata
// document, where the archive carrying it cannot contain its own hash.
func validate(pkg *model.Package, requireChecksum bool) error {
	switch {
	case pkg.Name == "":
		return errors.Wrap(errors.ErrIndexParse, "missing required field 'name'")
	case pkg.Version == "":
		return errors.Wrapf(errors.ErrIndexParse, "package %s: missing required field 'version'", pkg.Name)
	case pkg.Arch == "":
		return errors.Wrapf(errors.ErrIndexParse, "package %s: missing required field 'arch'", pkg.Name)
	case requireChecksum && pkg.Checksum == "":
		return errors.Wrapf(errors.ErrIndexParse, "package %s: missing required field 'checksum'", pkg.Name)
	}
	return nil
}
