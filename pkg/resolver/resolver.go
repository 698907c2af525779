// Package resolver computes the topologically ordered closure of requested
// packages over their declared dependencies. Dependency strings are opaque
// names; a name is satisfied by an installed package, by an installed or
// selected package's virtual provisions, or by a repository package chosen
// through provider selection.
package resolver

import (
	"strings"

	"github.com/aurora-linux/aurora/internal/logger"
	"github.com/aurora-linux/aurora/pkg/errors"
	"github.com/aurora-linux/aurora/pkg/model"
)

// Resolver walks the repository graph with tri-state marking (unseen,
// visiting, visited) over immutable snapshots of the installed and repository
// views.
type Resolver struct {
	installed []model.InstalledPackage
	repo      []model.Package
}

// New creates a resolver over the given views. Pass an empty installed slice
// to disable already-installed filtering.
func New(installed []model.InstalledPackage, repo []model.Package) *Resolver {
	return &Resolver{installed: installed, repo: repo}
}

// Resolve returns the packages that must be newly installed to satisfy the
// requested names, dependencies strictly before dependents, duplicates
// eliminated and already-satisfied names omitted. Any failure aborts the
// whole resolution; no partial result is returned.
func (r *Resolver) Resolve(names []string) ([]model.Package, error) {
	var sorted []model.Package
	visiting := make(map[string]bool)
	visited := make(map[string]bool)

	for _, name := range names {
		if visited[name] {
			continue
		}
		if err := r.visit(name, &sorted, visiting, visited); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}

func (r *Resolver) visit(depName string, sorted *[]model.Package, visiting, visited map[string]bool) error {
	if visited[depName] {
		return nil
	}
	if r.isSatisfied(depName, *sorted) {
		return nil
	}

	provider, err := r.selectProvider(depName)
	if err != nil {
		return err
	}

	if visited[provider.Name] {
		return nil
	}
	if visiting[provider.Name] {
		return errors.Wrapf(errors.ErrCircularDependency, "involving package %s", provider.Name)
	}

	visiting[provider.Name] = true
	for _, next := range provider.Deps {
		if err := r.visit(next, sorted, visiting, visited); err != nil {
			delete(visiting, provider.Name)
			return err
		}
	}
	delete(visiting, provider.Name)

	visited[provider.Name] = true
	*sorted = append(*sorted, *provider)
	return nil
}

// isSatisfied reports whether a dependency name is already covered by an
// installed package, an installed provision, or a package already appended to
// the output.
func (r *Resolver) isSatisfied(depName string, sorted []model.Package) bool {
	for i := range sorted {
		if sorted[i].Name == depName {
			return true
		}
		for _, provision := range sorted[i].Provides {
			if provision == depName {
				return true
			}
		}
	}
	for i := range r.installed {
		if r.installed[i].Name == depName {
			return true
		}
		for _, provision := range r.installed[i].Provides {
			if provision == depName {
				return true
			}
		}
	}
	return false
}

// selectProvider picks the package satisfying depName. The outcome is one of
// four cases: an exact-name match wins unconditionally; otherwise a unique
// virtual provider wins; multiple virtual providers are ambiguous and the
// user must name one explicitly; no provider at all is a missing dependency.
func (r *Resolver) selectProvider(depName string) (*model.Package, error) {
	var exact *model.Package
	var virtuals []*model.Package

	for i := range r.repo {
		pkg := &r.repo[i]
		if pkg.Name == depName {
			exact = pkg
			continue
		}
		for _, provision := range pkg.Provides {
			if provision == depName {
				virtuals = append(virtuals, pkg)
				break
			}
		}
	}

	switch {
	case exact != nil:
		logger.Debug("resolved dependency to package", logger.Fields{
			"dependency": depName,
			"package":    exact.Name,
		})
		return exact, nil
	case len(virtuals) == 1:
		logger.Debug("resolved dependency to virtual provider", logger.Fields{
			"dependency": depName,
			"package":    virtuals[0].Name,
		})
		return virtuals[0], nil
	case len(virtuals) == 0:
		return nil, errors.Wrapf(errors.ErrDependencyNotFound, "%s", depName)
	default:
		names := make([]string, 0, len(virtuals))
		for _, pkg := range virtuals {
			names = append(names, pkg.Name)
		}
		return nil, errors.Wrapf(errors.ErrAmbiguousProvider,
			"%s is provided by multiple packages: %s; install one of them explicitly",
			depName, strings.Join(names, ", "))
	}
}
