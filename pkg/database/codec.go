package database

import (
	"encoding/json"
	"strings"

	"github.com/aurora-linux/aurora/pkg/errors"
	"github.com/aurora-linux/aurora/pkg/model"
)

// installedRow is the persisted form of an installed package. List-valued
// fields are newline-joined scalars; an empty list round-trips to the empty
// string. repo_name and post_remove_script are distinct columns.
type installedRow struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	Arch              string `json:"arch"`
	Description       string `json:"description"`
	InstalledSize     int64  `json:"installed_size"`
	Checksum          string `json:"checksum"`
	Deps              string `json:"deps"`
	MakeDeps          string `json:"makedepends"`
	Provides          string `json:"provides"`
	Conflicts         string `json:"conflicts"`
	Replaces          string `json:"replaces"`
	PreInstallScript  string `json:"pre_install_script"`
	PostInstallScript string `json:"post_install_script"`
	PreRemoveScript   string `json:"pre_remove_script"`
	PostRemoveScript  string `json:"post_remove_script"`
	RepoName          string `json:"repo_name"`
	Files             string `json:"files"`
	InstallDate       string `json:"install_date"`
	OwnedFiles        string `json:"owned_files"`
}

// repoRow is the persisted form of a repository package.
type repoRow struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	Arch              string `json:"arch"`
	Description       string `json:"description"`
	InstalledSize     int64  `json:"installed_size"`
	Checksum          string `json:"checksum"`
	Deps              string `json:"deps"`
	MakeDeps          string `json:"makedepends"`
	Provides          string `json:"provides"`
	Conflicts         string `json:"conflicts"`
	Replaces          string `json:"replaces"`
	PreInstallScript  string `json:"pre_install_script"`
	PostInstallScript string `json:"post_install_script"`
	PreRemoveScript   string `json:"pre_remove_script"`
	PostRemoveScript  string `json:"post_remove_script"`
	RepoName          string `json:"repo_name"`
	Files             string `json:"files"`
}

func joinList(values []string) string {
	return strings.Join(values, "\n")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, token := range strings.Split(s, "\n") {
		if token != "" {
			out = append(out, token)
		}
	}
	return out
}

func toRepoRow(pkg *model.Package) repoRow {
	return repoRow{
		Name:              pkg.Name,
		Version:           pkg.Version,
		Arch:              pkg.Arch,
		Description:       pkg.Description,
		InstalledSize:     pkg.InstalledSize,
		Checksum:          pkg.Checksum,
		Deps:              joinList(pkg.Deps),
		MakeDeps:          joinList(pkg.MakeDeps),
		Provides:          joinList(pkg.Provides),
		Conflicts:         joinList(pkg.Conflicts),
		Replaces:          joinList(pkg.Replaces),
		PreInstallScript:  pkg.PreInstallScript,
		PostInstallScript: pkg.PostInstallScript,
		PreRemoveScript:   pkg.PreRemoveScript,
		PostRemoveScript:  pkg.PostRemoveScript,
		RepoName:          pkg.RepoName,
		Files:             joinList(pkg.Files),
	}
}

func fromRepoRow(row *repoRow) model.Package {
	return model.Package{
		Name:              row.Name,
		Version:           row.Version,
		Arch:              row.Arch,
		Description:       row.Description,
		InstalledSize:     row.InstalledSize,
		Checksum:          row.Checksum,
		Deps:              splitList(row.Deps),
		MakeDeps:          splitList(row.MakeDeps),
		Provides:          splitList(row.Provides),
		Conflicts:         splitList(row.Conflicts),
		Replaces:          splitList(row.Replaces),
		PreInstallScript:  row.PreInstallScript,
		PostInstallScript: row.PostInstallScript,
		PreRemoveScript:   row.PreRemoveScript,
		PostRemoveScript:  row.PostRemoveScript,
		RepoName:          row.RepoName,
		Files:             splitList(row.Files),
	}
}

func toInstalledRow(pkg *model.InstalledPackage) installedRow {
	repo := toRepoRow(&pkg.Package)
	return installedRow{
		Name:              repo.Name,
		Version:           repo.Version,
		Arch:              repo.Arch,
		Description:       repo.Description,
		InstalledSize:     repo.InstalledSize,
		Checksum:          repo.Checksum,
		Deps:              repo.Deps,
		MakeDeps:          repo.MakeDeps,
		Provides:          repo.Provides,
		Conflicts:         repo.Conflicts,
		Replaces:          repo.Replaces,
		PreInstallScript:  repo.PreInstallScript,
		PostInstallScript: repo.PostInstallScript,
		PreRemoveScript:   repo.PreRemoveScript,
		PostRemoveScript:  repo.PostRemoveScript,
		RepoName:          repo.RepoName,
		Files:             repo.Files,
		InstallDate:       pkg.InstallDate,
		OwnedFiles:        joinList(pkg.OwnedFiles),
	}
}

func fromInstalledRow(row *installedRow) model.InstalledPackage {
	repo := repoRow{
		Name:              row.Name,
		Version:           row.Version,
		Arch:              row.Arch,
		Description:       row.Description,
		InstalledSize:     row.InstalledSize,
		Checksum:          row.Checksum,
		Deps:              row.Deps,
		MakeDeps:          row.MakeDeps,
		Provides:          row.Provides,
		Conflicts:         row.Conflicts,
		Replaces:          row.Replaces,
		PreInstallScript:  row.PreInstallScript,
		PostInstallScript: row.PostInstallScript,
		PreRemoveScript:   row.PreRemoveScript,
		PostRemoveScript:  row.PostRemoveScript,
		RepoName:          row.RepoName,
		Files:             row.Files,
	}
	return model.InstalledPackage{
		Package:     fromRepoRow(&repo),
		InstallDate: row.InstallDate,
		OwnedFiles:  splitList(row.OwnedFiles),
	}
}

func encodeRow(row interface{}) ([]byte, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, errors.Wrap(err, "cannot encode database row")
	}
	return data, nil
}
