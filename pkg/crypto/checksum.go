// Package crypto implements the integrity and authenticity checks of the
// engine: SHA-256 artifact checksums and OpenPGP detached-signature
// verification of repository indexes against a trusted key directory.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/aurora-linux/aurora/pkg/errors"
)

// ChecksumFile computes the SHA-256 of a file and returns it as lowercase hex.
func ChecksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "cannot open %s for hashing", path)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "cannot hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFileChecksum compares the SHA-256 of the file at path against the
// expected hex digest.
func VerifyFileChecksum(path, expected string) error {
	computed, err := ChecksumFile(path)
	if err != nil {
		return err
	}
	if computed != strings.ToLower(strings.TrimSpace(expected)) {
		return errors.Wrapf(errors.ErrChecksumMismatch, "%s: expected %s, computed %s", path, expected, computed)
	}
	return nil
}
