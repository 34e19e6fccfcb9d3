// Package fsutil abstracts the directory operations of the run lifecycle so
// worker and resume behavior is testable without touching the disk.
package fsutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileSystem covers the directory operations the engine performs: creating
// the sweep root, claiming an exclusive per-run directory, and clearing
// stale run directories before a rerun.
type FileSystem interface {
	// Mkdir creates a single directory. Unlike MkdirAll it fails when the
	// directory already exists or its parent is missing.
	Mkdir(path string, perm os.FileMode) error

	// MkdirAll creates a directory and all necessary parents.
	MkdirAll(path string, perm os.FileMode) error

	// RemoveAll removes path and any children it contains. A missing path
	// is not an error.
	RemoveAll(path string) error
}

// OSFileSystem implements FileSystem using the os package.
type OSFileSystem struct{}

// Mkdir creates a single directory.
func (OSFileSystem) Mkdir(path string, perm os.FileMode) error {
	return os.Mkdir(path, perm)
}

// MkdirAll creates a directory path.
func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// RemoveAll removes the path and any children.
func (OSFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// MemoryFileSystem tracks directories and marker files in memory. Beyond
// the FileSystem methods it offers Touch and Exists so tests can seed
// stale state and inspect what a run left behind.
type MemoryFileSystem struct {
	mu    sync.Mutex
	dirs  map[string]bool
	files map[string]bool
}

// NewMemoryFileSystem creates an empty in-memory filesystem.
func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{
		dirs:  make(map[string]bool),
		files: make(map[string]bool),
	}
}

// Mkdir creates a single directory. The parent must already exist and the
// path must not.
func (m *MemoryFileSystem) Mkdir(path string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = filepath.Clean(path)
	if m.dirs[path] || m.files[path] {
		return &fs.PathError{Op: "mkdir", Path: path, Err: fs.ErrExist}
	}
	if parent := filepath.Dir(path); parent != "." && parent != "/" && !m.dirs[parent] {
		return &fs.PathError{Op: "mkdir", Path: path, Err: fs.ErrNotExist}
	}
	m.dirs[path] = true

	return nil
}

// MkdirAll creates the directory and any missing parents.
func (m *MemoryFileSystem) MkdirAll(path string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = filepath.Clean(path)
	m.dirs[path] = true
	for p := filepath.Dir(path); p != "." && p != "/" && p != path; p = filepath.Dir(p) {
		m.dirs[p] = true
	}

	return nil
}

// RemoveAll removes the path and everything under it. Removing a missing
// path succeeds, matching os.RemoveAll.
func (m *MemoryFileSystem) RemoveAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = filepath.Clean(path)
	for name := range m.files {
		if name == path || strings.HasPrefix(name, path+string(filepath.Separator)) {
			delete(m.files, name)
		}
	}
	for name := range m.dirs {
		if name == path || strings.HasPrefix(name, path+string(filepath.Separator)) {
			delete(m.dirs, name)
		}
	}

	return nil
}

// Touch records a marker file at path.
func (m *MemoryFileSystem) Touch(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[filepath.Clean(path)] = true
}

// Exists reports whether a directory or marker file exists at path.
func (m *MemoryFileSystem) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = filepath.Clean(path)
	return m.dirs[path] || m.files[path]
}
