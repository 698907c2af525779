// Package archive handles package archive extraction and creation. Archives
// are zstd-compressed tarballs whose entries are rooted at paths relative to
// the target root.
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
	"golang.org/x/sys/unix"

	"github.com/aurora-linux/aurora/internal/logger"
	"github.com/aurora-linux/aurora/pkg/errors"
	"github.com/aurora-linux/aurora/pkg/index"
)

const xattrPAXPrefix = "SCHILY.xattr."

// Manager extracts and creates package archives.
type Manager struct{}

// NewManager creates a new Manager instance.
func NewManager() *Manager {
	return &Manager{}
}

func format() archives.CompressedArchive {
	return archives.CompressedArchive{
		Compression: archives.Zstd{},
		Archival:    archives.Tar{},
		Extraction:  archives.Tar{},
	}
}

// Extract unpacks archivePath into destDir and returns the archive-relative
// paths of every extracted non-directory entry, in archive order. The
// metadata document is not part of the payload and is skipped. Entries with
// absolute or traversing paths and entries of unsupported type abort the
// extraction.
func (m *Manager) Extract(ctx context.Context, archivePath, destDir string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrExtractionFailed, "cannot open archive %s: %v", archivePath, err)
	}
	defer func() { _ = f.Close() }()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "cannot create extraction directory")
	}

	var files []string
	handler := func(ctx context.Context, info archives.FileInfo) error {
		name, err := sanitizeEntryName(info.NameInArchive)
		if err != nil {
			return err
		}
		if name == "" || name == index.MetaFileName {
			return nil
		}

		hdr, ok := info.Header.(*tar.Header)
		if !ok {
			return errors.Wrapf(errors.ErrExtractionFailed, "non-tar entry %q", info.NameInArchive)
		}

		target := filepath.Join(destDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Wrap(err, "cannot create parent directory")
		}

		if err := m.writeEntry(info, hdr, destDir, target); err != nil {
			return err
		}
		applyMetadata(hdr, target)

		if hdr.Typeflag != tar.TypeDir {
			files = append(files, name)
		}
		return nil
	}

	if err := format().Extract(ctx, f, handler); err != nil {
		if stderrors.Is(err, errors.ErrExtractionFailed) {
			return nil, err
		}
		return nil, errors.Wrapf(errors.ErrExtractionFailed, "%s: %v", archivePath, err)
	}
	return files, nil
}

// writeEntry replicates a single archive entry at target.
func (m *Manager) writeEntry(info archives.FileInfo, hdr *tar.Header, destDir, target string) error {
	switch hdr.Typeflag {
	case tar.TypeDir:
		return errors.Wrap(os.MkdirAll(target, hdr.FileInfo().Mode().Perm()), "cannot create directory")

	case tar.TypeReg:
		src, err := info.Open()
		if err != nil {
			return errors.Wrapf(errors.ErrExtractionFailed, "cannot open entry %s: %v", hdr.Name, err)
		}
		defer func() { _ = src.Close() }()
		dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
		if err != nil {
			return errors.Wrapf(err, "cannot create %s", target)
		}
		defer func() { _ = dst.Close() }()
		if _, err := io.Copy(dst, src); err != nil {
			return errors.Wrapf(errors.ErrExtractionFailed, "cannot write %s: %v", target, err)
		}
		return nil

	case tar.TypeSymlink:
		_ = os.Remove(target)
		return errors.Wrapf(os.Symlink(hdr.Linkname, target), "cannot create symlink %s", target)

	case tar.TypeLink:
		linked, err := sanitizeEntryName(hdr.Linkname)
		if err != nil {
			return err
		}
		_ = os.Remove(target)
		return errors.Wrapf(os.Link(filepath.Join(destDir, filepath.FromSlash(linked)), target), "cannot create hard link %s", target)

	case tar.TypeChar, tar.TypeBlock:
		mode := uint32(hdr.Mode & 0o7777)
		if hdr.Typeflag == tar.TypeChar {
			mode |= unix.S_IFCHR
		} else {
			mode |= unix.S_IFBLK
		}
		dev := unix.Mkdev(uint32(hdr.Devmajor), uint32(hdr.Devminor))
		if err := unix.Mknod(target, mode, int(dev)); err != nil {
			// Creating device nodes needs privileges we may not have.
			logger.Warnf("cannot create device node %s: %v", target, err)
		}
		return nil

	default:
		return errors.Wrapf(errors.ErrExtractionFailed, "unsupported entry type %q for %s", hdr.Typeflag, hdr.Name)
	}
}

// applyMetadata restores ownership, permissions, timestamps and extended
// attributes. Ownership and xattrs need privileges and are best effort.
func applyMetadata(hdr *tar.Header, target string) {
	if err := os.Lchown(target, hdr.Uid, hdr.Gid); err != nil {
		logger.Debugf("cannot chown %s: %v", target, err)
	}

	if hdr.Typeflag != tar.TypeSymlink {
		mode := hdr.FileInfo().Mode() & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky)
		if err := os.Chmod(target, mode); err != nil {
			logger.Debugf("cannot chmod %s: %v", target, err)
		}
		if !hdr.ModTime.IsZero() {
			if err := os.Chtimes(target, hdr.ModTime, hdr.ModTime); err != nil {
				logger.Debugf("cannot set times on %s: %v", target, err)
			}
		}
	}

	for key, value := range hdr.PAXRecords {
		if !strings.HasPrefix(key, xattrPAXPrefix) {
			continue
		}
		attr := strings.TrimPrefix(key, xattrPAXPrefix)
		if err := unix.Lsetxattr(target, attr, []byte(value), 0); err != nil {
			logger.Debugf("cannot set xattr %s on %s: %v", attr, target, err)
		}
	}
}

// ExtractFileToMemory returns the content of a single named entry without
// touching the filesystem.
func (m *Manager) ExtractFileToMemory(ctx context.Context, archivePath, name string) ([]byte, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrExtractionFailed, "cannot open archive %s: %v", archivePath, err)
	}
	defer func() { _ = f.Close() }()

	var content []byte
	found := false

	handler := func(ctx context.Context, info archives.FileInfo) error {
		entry := strings.TrimPrefix(path.Clean(info.NameInArchive), "./")
		if entry != name {
			return nil
		}
		src, err := info.Open()
		if err != nil {
			return errors.Wrapf(errors.ErrExtractionFailed, "cannot open entry %s: %v", name, err)
		}
		defer func() { _ = src.Close() }()
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, src); err != nil {
			return errors.Wrapf(errors.ErrExtractionFailed, "cannot read entry %s: %v", name, err)
		}
		content = buf.Bytes()
		found = true
		return errStopWalk
	}

	if err := format().Extract(ctx, f, handler); err != nil && !found {
		return nil, errors.Wrapf(errors.ErrExtractionFailed, "%s: %v", archivePath, err)
	}
	if !found {
		return nil, errors.Wrapf(errors.ErrExtractionFailed, "%s: no entry %q", archivePath, name)
	}
	return content, nil
}

// errStopWalk aborts an extraction walk once the wanted entry has been read.
var errStopWalk = stderrors.New("stop walk")

// Create builds a package archive from the contents of sourceDir. Used by the
// test fixtures and local tooling; the runtime engine only extracts.
func (m *Manager) Create(ctx context.Context, sourceDir, archivePath string) error {
	absolutePath, err := filepath.Abs(sourceDir)
	if err != nil {
		return errors.Wrap(err, "cannot resolve source directory")
	}

	archiveFiles, err := archives.FilesFromDisk(ctx, nil, map[string]string{
		absolutePath + string(os.PathSeparator): "",
	})
	if err != nil {
		return errors.Wrap(err, "cannot read files from disk")
	}

	file, err := os.Create(archivePath)
	if err != nil {
		return errors.Wrapf(err, "cannot create archive %s", archivePath)
	}
	defer func() {
		_ = file.Sync()
		_ = file.Close()
	}()

	if err := format().Archive(ctx, file, archiveFiles); err != nil {
		return errors.Wrapf(err, "cannot create archive %s", archivePath)
	}
	return nil
}

// sanitizeEntryName normalizes an archive entry path and rejects absolute
// paths and parent-directory traversal.
func sanitizeEntryName(name string) (string, error) {
	cleaned := path.Clean(strings.TrimPrefix(name, "./"))
	if cleaned == "." {
		return "", nil
	}
	if path.IsAbs(cleaned) || strings.HasPrefix(cleaned, "/") {
		return "", errors.Wrapf(errors.ErrExtractionFailed, "absolute path %q in archive", name)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.Wrapf(errors.ErrExtractionFailed, "path traversal %q in archive", name)
	}
	return cleaned, nil
}
