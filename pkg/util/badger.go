package util

import (
	"fmt"
	"io/ioutil"

	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"
)

// CreateRandomBadgerDB opens a fresh database in a new temporary directory;
// the caller is responsible for closing it and removing the directory
func CreateRandomBadgerDB() (*badger.DB, string, error) {
	dir, err := ioutil.TempDir("", fmt.Sprintf("bolt-db-%s-", NewULID()))
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to create database directory")
	}

	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to open database at %s", dir)
	}

	return db, dir, nil
}
