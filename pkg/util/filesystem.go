package util

import (
	"os"

	"github.com/pkg/errors"
)

// Exists checks whether the file exists
func Exists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// CreateDirectoryIfNotExists creates directory if it doesn't yet exist
func CreateDirectoryIfNotExists(path string, mode os.FileMode) error {
	if !Exists(path) {
		if err := os.MkdirAll(path, mode); err != nil {
			return errors.Wrapf(err, "failed to create directory %s", path)
		}
	}

	return nil
}
