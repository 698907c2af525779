// Package config reads the repositories configuration file.
package config

import (
	"path/filepath"

	"gopkg.in/ini.v1"

	"github.com/aurora-linux/aurora/pkg/errors"
)

// ReposConfRelPath is the location of the repositories configuration file,
// relative to the target root.
const ReposConfRelPath = "etc/aurora/repos.conf"

// Repository is one configured repository with its mirror list in
// configuration order.
type Repository struct {
	Name string
	URLs []string
}

// ReposConfPath returns the absolute path of repos.conf under root.
func ReposConfPath(root string) string {
	return filepath.Join(root, filepath.FromSlash(ReposConfRelPath))
}

// LoadRepositories parses an INI-style repositories file. Each section names a
// repository; its repeated "url" keys become the mirror list in order of
// appearance. Lines starting with '#' are comments.
func LoadRepositories(path string) ([]Repository, error) {
	file, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true}, path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read repository config %s", path)
	}

	var repos []Repository
	for _, section := range file.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		repo := Repository{Name: section.Name()}
		if key, err := section.GetKey("url"); err == nil {
			for _, url := range key.ValueWithShadows() {
				if url != "" {
					repo.URLs = append(repo.URLs, url)
				}
			}
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

// FindRepository returns the repository with the given name, or nil.
func FindRepository(repos []Repository, name string) *Repository {
	for i := range repos {
		if repos[i].Name == name {
			return &repos[i]
		}
	}
	return nil
}
