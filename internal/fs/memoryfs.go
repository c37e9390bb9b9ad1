package fs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryFS is a pure in-memory filesystem for tests.
type MemoryFS struct {
	mu    sync.Mutex
	files map[string]*memFile
	dirs  map[string]struct{}
	tmpN  int
}

type memFile struct {
	data  []byte
	mtime time.Time
}

func NewMemoryFS() *MemoryFS {
	f := &MemoryFS{
		files: make(map[string]*memFile),
		dirs:  make(map[string]struct{}),
	}
	f.dirs["/"] = struct{}{}
	f.dirs["."] = struct{}{}
	return f
}

func clean(p string) string {
	if p == "" {
		return "."
	}
	return filepath.ToSlash(filepath.Clean(p))
}

// SetMTime overrides a file's modification time, for change-detection tests.
func (f *MemoryFS) SetMTime(p string, t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if mf, ok := f.files[clean(p)]; ok {
		mf.mtime = t
	}
}

func (f *MemoryFS) Open(p string) (io.ReadSeekCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mf, ok := f.files[clean(p)]
	if !ok {
		return nil, iofs.ErrNotExist
	}
	return &memReadSeekCloser{Reader: bytes.NewReader(mf.data)}, nil
}

type memReadSeekCloser struct {
	*bytes.Reader
}

func (m *memReadSeekCloser) Close() error { return nil }

func (f *MemoryFS) ReadFile(p string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mf, ok := f.files[clean(p)]
	if !ok {
		return nil, iofs.ErrNotExist
	}
	return append([]byte(nil), mf.data...), nil
}

func (f *MemoryFS) WriteFile(p string, data []byte, perm os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeLocked(clean(p), data)
}

func (f *MemoryFS) writeLocked(p string, data []byte) error {
	dir := path.Dir(p)
	if _, ok := f.dirs[dir]; !ok {
		return fmt.Errorf("write: dir %q does not exist", dir)
	}
	f.files[p] = &memFile{data: append([]byte(nil), data...), mtime: time.Now()}
	return nil
}

func (f *MemoryFS) MkdirAll(p string, perm os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = clean(p)
	parts := strings.Split(p, "/")
	cur := ""
	for _, seg := range parts {
		if seg == "" || seg == "." {
			continue
		}
		cur = path.Join(cur, seg)
		f.dirs[cur] = struct{}{}
	}
	if strings.HasPrefix(p, "/") {
		f.dirs[p] = struct{}{}
	}
	return nil
}

func (f *MemoryFS) Remove(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = clean(p)
	if _, ok := f.files[p]; ok {
		delete(f.files, p)
		return nil
	}
	if _, ok := f.dirs[p]; ok {
		delete(f.dirs, p)
		return nil
	}
	return iofs.ErrNotExist
}

func (f *MemoryFS) RemoveAll(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = clean(p)
	for name := range f.files {
		if name == p || strings.HasPrefix(name, p+"/") {
			delete(f.files, name)
		}
	}
	for name := range f.dirs {
		if name == p || strings.HasPrefix(name, p+"/") {
			delete(f.dirs, name)
		}
	}
	return nil
}

func (f *MemoryFS) Rename(oldp, newp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	oldp, newp = clean(oldp), clean(newp)

	if mf, ok := f.files[oldp]; ok {
		dir := path.Dir(newp)
		if _, ok := f.dirs[dir]; !ok {
			return iofs.ErrNotExist
		}
		f.files[newp] = mf
		delete(f.files, oldp)
		return nil
	}

	if _, ok := f.dirs[oldp]; ok {
		// rename a directory subtree
		f.dirs[newp] = struct{}{}
		delete(f.dirs, oldp)
		for name, mf := range f.files {
			if strings.HasPrefix(name, oldp+"/") {
				f.files[newp+name[len(oldp):]] = mf
				delete(f.files, name)
			}
		}
		for name := range f.dirs {
			if strings.HasPrefix(name, oldp+"/") {
				f.dirs[newp+name[len(oldp):]] = struct{}{}
				delete(f.dirs, name)
			}
		}
		return nil
	}
	return iofs.ErrNotExist
}

func (f *MemoryFS) Stat(p string) (os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = clean(p)
	if mf, ok := f.files[p]; ok {
		return &memFileInfo{name: path.Base(p), size: int64(len(mf.data)), mtime: mf.mtime}, nil
	}
	if _, ok := f.dirs[p]; ok {
		return &memFileInfo{name: path.Base(p), dir: true}, nil
	}
	return nil, iofs.ErrNotExist
}

func (f *MemoryFS) ReadDir(p string) ([]os.DirEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = clean(p)
	if _, ok := f.dirs[p]; !ok {
		return nil, iofs.ErrNotExist
	}

	seen := make(map[string]bool)
	var entries []os.DirEntry
	add := func(name string, dir bool, info *memFileInfo) {
		if !seen[name] {
			seen[name] = true
			entries = append(entries, &memDirEntry{name: name, dir: dir, info: info})
		}
	}

	for name, mf := range f.files {
		if path.Dir(name) == p {
			add(path.Base(name), false, &memFileInfo{name: path.Base(name), size: int64(len(mf.data)), mtime: mf.mtime})
		}
	}
	for name := range f.dirs {
		if name != p && path.Dir(name) == p {
			add(path.Base(name), true, &memFileInfo{name: path.Base(name), dir: true})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

func (f *MemoryFS) CreateTempFile(dir, pattern string) (io.WriteCloser, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir = clean(dir)
	if _, ok := f.dirs[dir]; !ok {
		return nil, "", iofs.ErrNotExist
	}
	f.tmpN++
	name := strings.Replace(pattern, "*", fmt.Sprintf("%06d", f.tmpN), 1)
	p := path.Join(dir, name)
	return &memTempFile{fs: f, path: p}, p, nil
}

type memTempFile struct {
	fs   *MemoryFS
	path string
	buf  bytes.Buffer
}

func (t *memTempFile) Write(p []byte) (int, error) { return t.buf.Write(p) }

func (t *memTempFile) Close() error {
	t.fs.mu.Lock()
	defer t.fs.mu.Unlock()
	t.fs.files[t.path] = &memFile{data: append([]byte(nil), t.buf.Bytes()...), mtime: time.Now()}
	return nil
}

func (f *MemoryFS) CreateExclusive(p string, data []byte, perm os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = clean(p)
	if _, ok := f.files[p]; ok {
		return os.ErrExist
	}
	return f.writeLocked(p, data)
}

func (f *MemoryFS) IsNotExist(err error) bool {
	return errors.Is(err, iofs.ErrNotExist)
}

func (f *MemoryFS) Exists(p string) bool {
	_, err := f.Stat(p)
	return err == nil
}

func (f *MemoryFS) IsDir(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.dirs[clean(p)]
	return ok
}

// FileInfo / DirEntry implementations

type memFileInfo struct {
	name  string
	size  int64
	mtime time.Time
	dir   bool
}

func (i *memFileInfo) Name() string       { return i.name }
func (i *memFileInfo) Size() int64        { return i.size }
func (i *memFileInfo) Mode() os.FileMode  { return 0o644 }
func (i *memFileInfo) ModTime() time.Time { return i.mtime }
func (i *memFileInfo) IsDir() bool        { return i.dir }
func (i *memFileInfo) Sys() any           { return nil }

type memDirEntry struct {
	name string
	dir  bool
	info *memFileInfo
}

func (e *memDirEntry) Name() string               { return e.name }
func (e *memDirEntry) IsDir() bool                { return e.dir }
func (e *memDirEntry) Type() iofs.FileMode        { return e.info.Mode() }
func (e *memDirEntry) Info() (iofs.FileInfo, error) { return e.info, nil }
