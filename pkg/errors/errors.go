// Package errors defines the error taxonomy of the transaction engine and
// small helpers for wrapping errors with context.
package errors

import (
	"errors"
	"fmt"
)

// Engine error kinds. Callers match these with errors.Is. Engine operations
// wrap one of these, one of the supporting sentinels below, or an underlying
// I/O error.
var (
	// ErrResolutionFailed is returned when the resolver cannot produce a plan.
	ErrResolutionFailed = errors.New("could not resolve dependencies")

	// ErrDependencyNotFound is a resolution failure: no package or provider
	// satisfies a dependency name.
	ErrDependencyNotFound = fmt.Errorf("%w: dependency not found", ErrResolutionFailed)

	// ErrCircularDependency is a resolution failure: the dependency graph
	// contains a cycle reachable from the request.
	ErrCircularDependency = fmt.Errorf("%w: circular dependency", ErrResolutionFailed)

	// ErrAmbiguousProvider is returned when multiple packages virtually provide
	// a dependency and none matches it by exact name.
	ErrAmbiguousProvider = errors.New("ambiguous provider")

	// ErrPackageAlreadyInstalled is a planning precondition failure.
	ErrPackageAlreadyInstalled = errors.New("package is already installed")

	// ErrPackageNotInstalled is a planning precondition failure.
	ErrPackageNotInstalled = errors.New("package is not installed")

	// ErrConflictDetected is returned when a resolved package conflicts with an
	// installed one that is not scheduled for removal.
	ErrConflictDetected = errors.New("package conflict detected")

	// ErrDependencyViolation is returned when a removal would leave an
	// installed package with an unsatisfied dependency.
	ErrDependencyViolation = errors.New("dependency violation")

	// ErrFileConflict is returned when two packages want the same path, or an
	// unowned file occupies a path a new package needs.
	ErrFileConflict = errors.New("file conflict")

	// ErrDownloadFailed is returned when all mirrors for at least one artifact
	// have been exhausted.
	ErrDownloadFailed = errors.New("download failed")

	// ErrChecksumMismatch is returned when a downloaded artifact fails its
	// SHA-256 check.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrExtractionFailed is returned when an archive cannot be opened or
	// decoded, or contains a path traversal.
	ErrExtractionFailed = errors.New("archive extraction failed")

	// ErrScriptletFailed is returned when a pre-install or pre-remove hook
	// signals failure.
	ErrScriptletFailed = errors.New("scriptlet failed")

	// ErrNotEnoughSpace is returned by the pre-flight free-space checks.
	ErrNotEnoughSpace = errors.New("not enough free space")

	// ErrFileSystemError is returned when a filesystem call required by the
	// transaction fails unexpectedly.
	ErrFileSystemError = errors.New("filesystem error")
)

// Supporting sentinels used by individual components.
var (
	// ErrSignatureInvalid is returned when a repository index signature is not
	// valid or not issued by a trusted key.
	ErrSignatureInvalid = errors.New("signature verification failed")

	// ErrIndexParse is returned when a repository index or package metadata
	// document cannot be decoded.
	ErrIndexParse = errors.New("failed to parse index")

	// ErrSyncFailed is returned when at least one repository could not be
	// synchronized.
	ErrSyncFailed = errors.New("repository synchronization failed")

	// ErrInvalidVersion is returned when a version string cannot be parsed.
	ErrInvalidVersion = errors.New("invalid version")

	// ErrLockHeld is returned when another transaction holds the system lock.
	ErrLockHeld = errors.New("another transaction is in progress")
)

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with additional formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
