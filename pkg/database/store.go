// Package database provides the durable installed-state store backed by
// BoltDB. It holds two collections, installed packages and repository
// packages, and offers a single atomic batch update used by the transaction
// engine's database commit.
package database

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/aurora-linux/aurora/pkg/errors"
	"github.com/aurora-linux/aurora/pkg/model"
)

const (
	bucketInstalled = "installed_packages"
	bucketRepo      = "repo_packages"
)

// Store is the read/write contract of the installed-state database.
type Store interface {
	AddInstalled(pkg *model.InstalledPackage) error
	RemoveInstalled(name string) error
	GetInstalled(name string) (*model.InstalledPackage, error)
	IsInstalled(name string) (bool, error)
	ListInstalled() ([]model.InstalledPackage, error)
	ReplaceRepoPackages(pkgs []model.Package) error
	FindRepoPackage(name string) (*model.Package, error)
	ListRepoPackages() ([]model.Package, error)
	AtomicUpdate(adds []model.InstalledPackage, removeNames []string) error
	Close() error
}

// BoltStore implements Store on a bbolt file. bbolt commits every Update in a
// single write-ahead transaction, which gives the crash safety the engine
// requires.
type BoltStore struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the database at dbPath.
func Open(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "cannot create database directory")
	}

	db, err := bbolt.Open(dbPath, 0o644, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open database %s", dbPath)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketInstalled)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(bucketRepo))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "cannot initialize database buckets")
	}

	return &BoltStore{db: db}, nil
}

// Close closes the backing database file.
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// AddInstalled inserts or replaces an installed package record by name.
func (s *BoltStore) AddInstalled(pkg *model.InstalledPackage) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putInstalled(tx, pkg)
	})
}

// RemoveInstalled deletes an installed package record. Removing an absent
// name is not an error.
func (s *BoltStore) RemoveInstalled(name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketInstalled)).Delete([]byte(name))
	})
}

// GetInstalled returns the installed record for name, or nil when absent.
func (s *BoltStore) GetInstalled(name string) (*model.InstalledPackage, error) {
	var pkg *model.InstalledPackage
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketInstalled)).Get([]byte(name))
		if data == nil {
			return nil
		}
		var row installedRow
		if err := json.Unmarshal(data, &row); err != nil {
			return errors.Wrapf(err, "corrupt installed record %s", name)
		}
		decoded := fromInstalledRow(&row)
		pkg = &decoded
		return nil
	})
	return pkg, err
}

// IsInstalled reports whether a package with the given name is installed.
func (s *BoltStore) IsInstalled(name string) (bool, error) {
	pkg, err := s.GetInstalled(name)
	return pkg != nil, err
}

// ListInstalled returns all installed package records.
func (s *BoltStore) ListInstalled() ([]model.InstalledPackage, error) {
	var out []model.InstalledPackage
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketInstalled)).ForEach(func(k, v []byte) error {
			var row installedRow
			if err := json.Unmarshal(v, &row); err != nil {
				return errors.Wrapf(err, "corrupt installed record %s", k)
			}
			out = append(out, fromInstalledRow(&row))
			return nil
		})
	})
	return out, err
}

// ReplaceRepoPackages atomically replaces the whole repository collection.
func (s *BoltStore) ReplaceRepoPackages(pkgs []model.Package) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketRepo)); err != nil {
			return errors.Wrap(err, "cannot clear repository packages")
		}
		bucket, err := tx.CreateBucket([]byte(bucketRepo))
		if err != nil {
			return errors.Wrap(err, "cannot recreate repository bucket")
		}
		for i := range pkgs {
			row := toRepoRow(&pkgs[i])
			data, err := encodeRow(row)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(pkgs[i].Name), data); err != nil {
				return errors.Wrapf(err, "cannot store repository package %s", pkgs[i].Name)
			}
		}
		return nil
	})
}

// FindRepoPackage returns the repository record for name, or nil when absent.
func (s *BoltStore) FindRepoPackage(name string) (*model.Package, error) {
	var pkg *model.Package
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketRepo)).Get([]byte(name))
		if data == nil {
			return nil
		}
		var row repoRow
		if err := json.Unmarshal(data, &row); err != nil {
			return errors.Wrapf(err, "corrupt repository record %s", name)
		}
		decoded := fromRepoRow(&row)
		pkg = &decoded
		return nil
	})
	return pkg, err
}

// ListRepoPackages returns all known repository packages.
func (s *BoltStore) ListRepoPackages() ([]model.Package, error) {
	var out []model.Package
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketRepo)).ForEach(func(k, v []byte) error {
			var row repoRow
			if err := json.Unmarshal(v, &row); err != nil {
				return errors.Wrapf(err, "corrupt repository record %s", k)
			}
			out = append(out, fromRepoRow(&row))
			return nil
		})
	})
	return out, err
}

// AtomicUpdate applies all additions and removals in one transaction; either
// every mutation lands or none does. It is the only write the engine performs
// during its database commit.
func (s *BoltStore) AtomicUpdate(adds []model.InstalledPackage, removeNames []string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketInstalled))
		for _, name := range removeNames {
			if err := bucket.Delete([]byte(name)); err != nil {
				return errors.Wrapf(err, "cannot remove %s", name)
			}
		}
		for i := range adds {
			if err := putInstalled(tx, &adds[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func putInstalled(tx *bbolt.Tx, pkg *model.InstalledPackage) error {
	row := toInstalledRow(pkg)
	data, err := encodeRow(row)
	if err != nil {
		return err
	}
	if err := tx.Bucket([]byte(bucketInstalled)).Put([]byte(pkg.Name), data); err != nil {
		return errors.Wrapf(err, "cannot store installed package %s", pkg.Name)
	}
	return nil
}
