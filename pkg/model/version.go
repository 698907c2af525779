package model

import (
	goversion "github.com/hashicorp/go-version"

	"github.com/aurora-linux/aurora/pkg/errors"
)

// CompareVersions compares two dotted version strings. It returns -1, 0 or 1
// when a is lower than, equal to or greater than b. Missing components compare
// as zero, so "1.0" equals "1.0.0". Versions that cannot be parsed are
// rejected with ErrInvalidVersion rather than ordered arbitrarily.
func CompareVersions(a, b string) (int, error) {
	va, err := goversion.NewVersion(a)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidVersion, "%q", a)
	}
	vb, err := goversion.NewVersion(b)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidVersion, "%q", b)
	}
	return va.Compare(vb), nil
}
