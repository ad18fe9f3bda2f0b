// Package atomicfile writes files through a temporary sibling and a rename,
// so readers never observe a partially written artifact at the final path.
package atomicfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var ErrWrite = errors.New("file write failed")

const perm = 0644

// Write creates a temporary file next to path, passes it to fn, and renames
// it over path once fn, sync and close all succeed. On any failure the
// temporary file is removed and the previous content of path is untouched.
func Write(path string, fn func(f *os.File) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	if err := fn(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %s: %w", ErrWrite, path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %s: sync: %w", ErrWrite, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %s: close: %w", ErrWrite, path, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("%w: %s: chmod: %w", ErrWrite, path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: %s: rename: %w", ErrWrite, path, err)
	}
	return nil
}

func WriteFile(path string, data []byte) error {
	return Write(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// CheckWritable verifies a file could be created at path without touching it.
func CheckWritable(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.probe")
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, path, err)
	}
	tmp.Close()
	return os.Remove(tmp.Name())
}
