package fs

import (
	"io"
	"os"
)

// FS abstracts filesystem operations so storage layers can run against the
// real disk, an in-memory tree in tests, or a compressing wrapper.
type FS interface {
	Open(path string) (io.ReadSeekCloser, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	Remove(path string) error
	RemoveAll(path string) error
	Rename(oldPath, newPath string) error
	Stat(path string) (os.FileInfo, error)
	ReadDir(path string) ([]os.DirEntry, error)
	CreateTempFile(dir, pattern string) (io.WriteCloser, string, error)
	// CreateExclusive writes a new file, failing with os.ErrExist if the
	// path already exists. Used for lock files.
	CreateExclusive(path string, data []byte, perm os.FileMode) error
	IsNotExist(err error) bool
	Exists(path string) bool
	IsDir(path string) bool
}
