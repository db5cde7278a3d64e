package testutil

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"wsync-go/internal/wsync"
)

// MockFilesystemManager is an in-memory set of paths for testing.
type MockFilesystemManager struct {
	mu      sync.Mutex
	files   map[string]bool
	dirs    map[string]bool
	removed []string
}

// NewMockFilesystemManager creates an empty mock filesystem.
func NewMockFilesystemManager() *MockFilesystemManager {
	return &MockFilesystemManager{
		files: map[string]bool{},
		dirs:  map[string]bool{},
	}
}

// AddFile adds a file and its parent directories.
func (m *MockFilesystemManager) AddFile(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	m.files[path] = true
	for dir := filepath.Dir(path); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		m.dirs[dir] = true
	}
}

func (m *MockFilesystemManager) Exists(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	return m.files[path] || m.dirs[path], nil
}

func (m *MockFilesystemManager) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	if m.files[path] {
		delete(m.files, path)
		m.removed = append(m.removed, path)
	}
	return nil
}

func (m *MockFilesystemManager) RemoveDir(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	prefix := path + string(filepath.Separator)
	for f := range m.files {
		if strings.HasPrefix(f, prefix) {
			return &notEmptyError{path: path}
		}
	}
	if m.dirs[path] {
		delete(m.dirs, path)
		m.removed = append(m.removed, path)
	}
	return nil
}

// Removed lists removed paths in removal order.
func (m *MockFilesystemManager) Removed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}

// Files lists the remaining files sorted.
func (m *MockFilesystemManager) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for f := range m.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

type notEmptyError struct{ path string }

func (e *notEmptyError) Error() string { return "directory not empty: " + e.path }

// Compile-time check
var _ wsync.FilesystemManager = (*MockFilesystemManager)(nil)
