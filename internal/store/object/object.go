// Package object implements the content-addressable blob store. Each distinct
// digest is stored exactly once under objects/<2-hex-prefix>/<remainder>; the
// prefix directory bounds fan-out. The digest-to-path mapping is part of the
// on-disk format and must stay stable.
package object

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/trackvault/trackvault/internal/fs"
	"github.com/trackvault/trackvault/internal/hasher"
)

// ErrNotFound signals a digest that is absent from the store. When the digest
// is referenced by a committed manifest this indicates corruption or an
// incomplete store.
var ErrNotFound = errors.New("object not found")

// Store handles all blob-level storage operations.
type Store struct {
	Root string // path to the objects root directory (.trackvault/objects)
	FS   fs.FS
}

// New creates a Store rooted at root.
func New(root string, fsys fs.FS) *Store {
	return &Store{Root: root, FS: fsys}
}

// Path returns the blob location for a digest.
func (s *Store) Path(d hasher.Digest) (string, error) {
	if len(d) < 3 || !d.Valid() {
		return "", fmt.Errorf("malformed digest %q", d)
	}
	return filepath.Join(s.Root, string(d[:2]), string(d[2:])), nil
}

// Contains is a cheap existence check. It only ever observes fully-written
// blobs thanks to the temp-then-rename write discipline.
func (s *Store) Contains(d hasher.Digest) bool {
	p, err := s.Path(d)
	if err != nil {
		return false
	}
	return s.FS.Exists(p)
}

// Put persists content under d. A repeat Put with an existing digest is a
// successful no-op; the content is trusted and never byte-compared. Concurrent
// Puts of the same digest are safe: each writes its own temp file and the
// final rename is atomic.
func (s *Store) Put(d hasher.Digest, r io.Reader) error {
	dst, err := s.Path(d)
	if err != nil {
		return err
	}

	if s.FS.Exists(dst) {
		return nil
	}

	dir := filepath.Dir(dst)
	if err := s.FS.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create shard dir %q: %w", dir, err)
	}

	tmp, tmpPath, err := s.FS.CreateTempFile(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp blob in %q: %w", dir, err)
	}
	defer s.FS.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write blob %q: %w", d, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp blob for %q: %w", d, err)
	}

	if err := s.FS.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("place blob %q: %w", d, err)
	}
	return nil
}

// PutFile stores the content of a working-tree file under d.
func (s *Store) PutFile(src fs.FS, path string, d hasher.Digest) error {
	f, err := src.Open(path)
	if err != nil {
		return fmt.Errorf("open source %q: %w", path, err)
	}
	defer f.Close()
	return s.Put(d, f)
}

// Get returns a reader over the stored content for d.
func (s *Store) Get(d hasher.Digest) (io.ReadSeekCloser, error) {
	p, err := s.Path(d)
	if err != nil {
		return nil, err
	}
	f, err := s.FS.Open(p)
	if err != nil {
		if s.FS.IsNotExist(err) {
			return nil, fmt.Errorf("blob %q: %w", d, ErrNotFound)
		}
		return nil, fmt.Errorf("read blob %q: %w", d, err)
	}
	return f, nil
}

// Walk calls fn for every stored digest. Enumeration order is unspecified.
// Together with the history layer's reachability query this is the input a
// garbage collector needs.
func (s *Store) Walk(fn func(hasher.Digest) error) error {
	shards, err := s.FS.ReadDir(s.Root)
	if err != nil {
		if s.FS.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read objects dir: %w", err)
	}

	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		entries, err := s.FS.ReadDir(filepath.Join(s.Root, shard.Name()))
		if err != nil {
			return fmt.Errorf("read shard %q: %w", shard.Name(), err)
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
				continue
			}
			if err := fn(hasher.Digest(shard.Name() + e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// Count returns the number of stored blobs.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.Walk(func(hasher.Digest) error {
		n++
		return nil
	})
	return n, err
}

// CleanupTemp removes orphaned temp files left by interrupted writes.
func (s *Store) CleanupTemp() error {
	shards, err := s.FS.ReadDir(s.Root)
	if err != nil {
		if s.FS.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		dir := filepath.Join(s.Root, shard.Name())
		entries, err := s.FS.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasPrefix(e.Name(), ".tmp-") {
				_ = s.FS.Remove(filepath.Join(dir, e.Name()))
			}
		}
	}
	return nil
}
