package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// EnsureDirectory ensures that the given directory exists and that is has the given permissions set.
// Missing parent directories are created too.
func EnsureDirectory(path string, perm fs.FileMode) error {
	// open path
	f, err := os.Stat(path)
	switch {
	case err == nil && f.IsDir():
		// directory exists, check permissions
		if f.Mode().Perm() != perm {
			return os.Chmod(path, perm)
		}
		return nil
	case err == nil:
		return fmt.Errorf("%s exists, but is not a directory", path)
	case errors.Is(err, fs.ErrNotExist):
		// file does not exist
		if err := os.MkdirAll(path, perm); err != nil {
			return fmt.Errorf("could not create dir %s: %w", path, err)
		}
		// MkdirAll is subject to the umask.
		return os.Chmod(path, perm)
	default:
		// other error opening path
		return fmt.Errorf("failed to access %s: %w", path, err)
	}
}

// PathExists returns whether the given path (file or dir) exists.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || errors.Is(err, fs.ErrExist)
}
