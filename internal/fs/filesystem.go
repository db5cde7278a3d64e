package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"wsync-go/internal/wsync"
)

// OSFilesystemManager is the real filesystem implementation of FilesystemManager.
type OSFilesystemManager struct{}

// NewOSFilesystemManager creates a filesystem manager that operates on the real filesystem.
func NewOSFilesystemManager() *OSFilesystemManager {
	return &OSFilesystemManager{}
}

func (m *OSFilesystemManager) Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}

// Remove deletes a file. Files synced from the depot are read-only, so a
// failed removal is retried after making the file writable.
func (m *OSFilesystemManager) Remove(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	info, statErr := os.Lstat(path)
	if statErr != nil || info.IsDir() || info.Mode().Perm()&0200 != 0 {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	if chmodErr := os.Chmod(path, info.Mode().Perm()|0200); chmodErr != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// RemoveDir deletes an empty directory.
func (m *OSFilesystemManager) RemoveDir(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing directory %s: %w", path, err)
	}
	return nil
}

// Compile-time check that OSFilesystemManager implements wsync.FilesystemManager interface
var _ wsync.FilesystemManager = (*OSFilesystemManager)(nil)
