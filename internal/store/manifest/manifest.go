// Package manifest models the full description of one snapshot: an ordered
// mapping from relative path to file entry. Manifests are immutable once
// committed.
package manifest

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/trackvault/trackvault/internal/fs"
	"github.com/trackvault/trackvault/internal/hasher"
	"github.com/trackvault/trackvault/internal/util"
)

// FileEntry is one tracked file within a snapshot. Path is relative to the
// project root, slash-separated and case-preserving. MTime is the source
// modification time observed at hash time (unix nanoseconds); it is a
// change-detection hint only, never a correctness signal.
type FileEntry struct {
	Path   string        `json:"path"`
	Digest hasher.Digest `json:"digest"`
	Size   int64         `json:"size"`
	MTime  int64         `json:"mtime"`
}

// Manifest is a snapshot's complete file tree. Entries are sorted by path and
// paths are unique within a manifest.
type Manifest struct {
	ID      string      `json:"id"`
	Entries []FileEntry `json:"files"`
}

// NormalizePath converts an OS path into manifest form.
func NormalizePath(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}

// New assembles a manifest from entries, sorting them and deriving the ID
// from the canonical path/digest listing.
func New(h *hasher.Hasher, entries []FileEntry) (Manifest, error) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	for i := 1; i < len(entries); i++ {
		if entries[i].Path == entries[i-1].Path {
			return Manifest{}, fmt.Errorf("duplicate path %q in manifest", entries[i].Path)
		}
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s\x00%s\x00%d\n", e.Path, e.Digest, e.Size)
	}
	return Manifest{
		ID:      string(h.SumBytes([]byte(b.String()))),
		Entries: entries,
	}, nil
}

// Lookup returns the manifest's entries keyed by path.
func (m *Manifest) Lookup() map[string]FileEntry {
	idx := make(map[string]FileEntry, len(m.Entries))
	for _, e := range m.Entries {
		idx[e.Path] = e
	}
	return idx
}

// Digests returns the distinct digests referenced by the manifest.
func (m *Manifest) Digests() map[hasher.Digest]struct{} {
	set := make(map[hasher.Digest]struct{}, len(m.Entries))
	for _, e := range m.Entries {
		set[e.Digest] = struct{}{}
	}
	return set
}

// TotalSize is the byte total across all entries.
func (m *Manifest) TotalSize() int64 {
	var n int64
	for _, e := range m.Entries {
		n += e.Size
	}
	return n
}

// Store persists manifests as JSON files under the manifests directory.
type Store struct {
	Root string
	FS   fs.FS
}

func NewStore(root string, fsys fs.FS) *Store {
	return &Store{Root: root, FS: fsys}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.Root, id+".json")
}

// Save writes a manifest atomically. Saving an already-present manifest is a
// no-op: identical entry sets hash to the same ID.
func (s *Store) Save(m Manifest) error {
	if m.ID == "" {
		return fmt.Errorf("invalid manifest: missing ID")
	}
	p := s.path(m.ID)
	if s.FS.Exists(p) {
		return nil
	}
	if err := util.WriteJSON(s.FS, p, m); err != nil {
		return fmt.Errorf("write manifest %q: %w", m.ID, err)
	}
	return nil
}

// Load reads a manifest by ID.
func (s *Store) Load(id string) (Manifest, error) {
	var m Manifest
	if err := util.ReadJSON(s.FS, s.path(id), &m); err != nil {
		return Manifest{}, fmt.Errorf("read manifest %q: %w", id, err)
	}
	return m, nil
}
