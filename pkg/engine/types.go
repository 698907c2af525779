//go:generate mockgen -destination=./mocks/engine.go -package=mocks . Fetcher

// Package engine implements the transactional core of the package manager:
// planning, asset preparation, and atomic execution with rollback against a
// target root.
package engine

import (
	"context"
	"time"

	"github.com/aurora-linux/aurora/pkg/database"
	"github.com/aurora-linux/aurora/pkg/download"
)

// Relative locations of the engine's persisted state under the target root.
const (
	dbRelPath    = "var/lib/aurora/aurora.db"
	lockRelPath  = "var/lib/aurora/aurora.lock"
	cacheRelPath = "var/cache/aurora/pkg"
	keyRelPath   = "etc/aurora/keys"
)

// PkgExt is the filename extension of package archives.
const PkgExt = ".pkg.tar.zst"

// IndexFileName and IndexSigFileName are the repository index documents.
const (
	IndexFileName    = "repo.yaml"
	IndexSigFileName = "repo.yaml.sig"
)

// Fetcher is the downloader seam consumed by the engine.
type Fetcher interface {
	FetchAll(ctx context.Context, jobs []download.Job) error
	TotalDownloadSize(ctx context.Context, jobs []download.Job) int64
}

// Extractor is the archive seam consumed by the engine.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) ([]string, error)
	ExtractFileToMemory(ctx context.Context, archivePath, name string) ([]byte, error)
}

// ScriptRunner executes package scriptlets.
type ScriptRunner interface {
	RunScriptFromFile(path, targetRoot string) error
}

// Options configure engine construction. Zero values select the production
// defaults; the collaborator fields exist so tests can substitute fakes.
type Options struct {
	SkipCrypto  bool
	HTTPTimeout time.Duration

	Store     database.Store
	Fetcher   Fetcher
	Extractor Extractor
	Sandbox   ScriptRunner
}
