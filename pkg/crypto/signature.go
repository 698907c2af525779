package crypto

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/aurora-linux/aurora/internal/logger"
	"github.com/aurora-linux/aurora/pkg/errors"
)

// LoadTrustedKeys reads every OpenPGP public key (armored or binary) found in
// keyDir into a single keyring. Files that do not parse as keys are skipped
// with a warning.
func LoadTrustedKeys(keyDir string) (openpgp.EntityList, error) {
	entries, err := os.ReadDir(keyDir)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read trusted key directory %s", keyDir)
	}

	var keyring openpgp.EntityList
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(keyDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warnf("cannot read key file %s: %v", path, err)
			continue
		}

		keys, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
		if err != nil {
			keys, err = openpgp.ReadKeyRing(bytes.NewReader(data))
		}
		if err != nil {
			logger.Warnf("skipping %s: not a usable OpenPGP key: %v", path, err)
			continue
		}
		keyring = append(keyring, keys...)
	}
	return keyring, nil
}

// VerifyDetachedSignature checks that sigPath holds a detached signature over
// dataPath issued by one of the keys in keyDir. A signature verifies iff it is
// cryptographically valid and its signer is present in the trusted keyring.
func VerifyDetachedSignature(dataPath, sigPath, keyDir string) error {
	keyring, err := LoadTrustedKeys(keyDir)
	if err != nil {
		return err
	}
	if len(keyring) == 0 {
		return errors.Wrapf(errors.ErrSignatureInvalid, "no trusted keys in %s", keyDir)
	}

	data, err := os.ReadFile(dataPath)
	if err != nil {
		return errors.Wrapf(err, "cannot read signed data %s", dataPath)
	}
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return errors.Wrapf(err, "cannot read signature %s", sigPath)
	}

	signer, err := openpgp.CheckDetachedSignature(keyring, bytes.NewReader(data), bytes.NewReader(sig), nil)
	if err != nil {
		signer, err = openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader(data), bytes.NewReader(sig), nil)
	}
	if err != nil {
		return errors.Wrapf(errors.ErrSignatureInvalid, "%s: %v", dataPath, err)
	}

	logger.Debug("signature verified", logger.Fields{
		"data":   dataPath,
		"signer": signer.PrimaryKey.KeyIdString(),
	})
	return nil
}
