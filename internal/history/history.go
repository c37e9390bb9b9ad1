// Package history owns the append-only version record of one project. A
// version becomes visible only when the LATEST pointer is atomically updated,
// so a crash mid-commit leaves history at the prior version.
package history

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/trackvault/trackvault/internal/fs"
	"github.com/trackvault/trackvault/internal/hasher"
	"github.com/trackvault/trackvault/internal/store/manifest"
	"github.com/trackvault/trackvault/internal/util"
)

// ErrVersionNotFound signals a version ID with no durable record.
var ErrVersionNotFound = errors.New("version not found")

// Version is one committed point in history. IDs increase monotonically from
// 1; Parent is 0 for the first version. Versions are never mutated or deleted
// after commit.
type Version struct {
	ID         uint64 `json:"id"`
	Parent     uint64 `json:"parent"`
	Timestamp  string `json:"timestamp"` // RFC3339
	Message    string `json:"message,omitempty"`
	Author     string `json:"author,omitempty"`
	ManifestID string `json:"manifest_id"`
}

// History reads and appends version records.
type History struct {
	Root       string // versions directory
	LatestPath string // LATEST pointer file
	FS         fs.FS
	Manifests  *manifest.Store
}

func New(root, latestPath string, fsys fs.FS, manifests *manifest.Store) *History {
	return &History{Root: root, LatestPath: latestPath, FS: fsys, Manifests: manifests}
}

func (h *History) versionPath(id uint64) string {
	return filepath.Join(h.Root, fmt.Sprintf("%08d.json", id))
}

// LatestID returns the ID of the newest committed version, or 0 if the
// history is empty.
func (h *History) LatestID() (uint64, error) {
	data, err := h.FS.ReadFile(h.LatestPath)
	if err != nil {
		if h.FS.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read LATEST: %w", err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed LATEST %q: %w", s, err)
	}
	return id, nil
}

// Latest returns the newest version, or nil for an empty history.
func (h *History) Latest() (*Version, error) {
	id, err := h.LatestID()
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, nil
	}
	return h.Get(id)
}

// Get reads a version by ID.
func (h *History) Get(id uint64) (*Version, error) {
	var v Version
	if err := util.ReadJSON(h.FS, h.versionPath(id), &v); err != nil {
		if h.FS.IsNotExist(err) {
			return nil, fmt.Errorf("version %d: %w", id, ErrVersionNotFound)
		}
		return nil, fmt.Errorf("read version %d: %w", id, err)
	}
	return &v, nil
}

// Append durably records v and then moves the LATEST pointer. The version
// file must not already exist; the pointer update is the commit point.
func (h *History) Append(v Version) error {
	if v.ID == 0 {
		return fmt.Errorf("version ID must be positive")
	}
	latest, err := h.LatestID()
	if err != nil {
		return err
	}
	if v.ID != latest+1 {
		return fmt.Errorf("non-sequential version %d after %d", v.ID, latest)
	}
	if v.Parent != latest {
		return fmt.Errorf("version %d parent %d does not match latest %d", v.ID, v.Parent, latest)
	}

	p := h.versionPath(v.ID)
	if h.FS.Exists(p) {
		return fmt.Errorf("version record %d already exists", v.ID)
	}
	if err := util.WriteJSON(h.FS, p, v); err != nil {
		return fmt.Errorf("write version %d: %w", v.ID, err)
	}

	if err := h.setLatest(v.ID); err != nil {
		return fmt.Errorf("advance LATEST to %d: %w", v.ID, err)
	}
	return nil
}

// setLatest rewrites the pointer atomically via temp-then-rename.
func (h *History) setLatest(id uint64) error {
	dir := filepath.Dir(h.LatestPath)
	tmp, tmpPath, err := h.FS.CreateTempFile(dir, "tmp-latest-*")
	if err != nil {
		return err
	}
	defer h.FS.Remove(tmpPath)

	if _, err := tmp.Write([]byte(strconv.FormatUint(id, 10))); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return h.FS.Rename(tmpPath, h.LatestPath)
}

// List returns all versions oldest to newest by walking the parent chain from
// LATEST.
func (h *History) List() ([]Version, error) {
	id, err := h.LatestID()
	if err != nil {
		return nil, err
	}
	var out []Version
	for id != 0 {
		v, err := h.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
		id = v.Parent
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Manifest resolves a version's manifest.
func (h *History) Manifest(id uint64) (manifest.Manifest, error) {
	v, err := h.Get(id)
	if err != nil {
		return manifest.Manifest{}, err
	}
	return h.Manifests.Load(v.ManifestID)
}

// ReachableDigests returns every digest referenced by any committed version.
// Combined with object.Store.Walk this is the reachability input a future
// garbage collector needs.
func (h *History) ReachableDigests() (map[hasher.Digest]struct{}, error) {
	versions, err := h.List()
	if err != nil {
		return nil, err
	}
	set := make(map[hasher.Digest]struct{})
	for _, v := range versions {
		m, err := h.Manifests.Load(v.ManifestID)
		if err != nil {
			return nil, fmt.Errorf("version %d: %w", v.ID, err)
		}
		for d := range m.Digests() {
			set[d] = struct{}{}
		}
	}
	return set, nil
}
