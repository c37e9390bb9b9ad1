package repo

import (
	"sort"

	"github.com/trackvault/trackvault/internal/store/manifest"
)

// Diff describes the changes between two versions.
type Diff struct {
	Added    []string
	Modified []string
	Removed  []string
}

// HasChanges reports whether the diff is non-empty.
func (d *Diff) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Modified) > 0 || len(d.Removed) > 0
}

// TotalChanges is the number of changed paths.
func (d *Diff) TotalChanges() int {
	return len(d.Added) + len(d.Modified) + len(d.Removed)
}

// DiffVersions compares version a against version b (a older, b newer).
// a may be 0 to diff against an empty tree.
func (r *Repository) DiffVersions(a, b uint64) (Diff, error) {
	var older manifest.Manifest
	if a != 0 {
		var err error
		older, err = r.History.Manifest(a)
		if err != nil {
			return Diff{}, err
		}
	}
	newer, err := r.History.Manifest(b)
	if err != nil {
		return Diff{}, err
	}

	oldIdx := older.Lookup()
	newIdx := newer.Lookup()

	var d Diff
	for p, ne := range newIdx {
		oe, ok := oldIdx[p]
		switch {
		case !ok:
			d.Added = append(d.Added, p)
		case oe.Digest != ne.Digest:
			d.Modified = append(d.Modified, p)
		}
	}
	for p := range oldIdx {
		if _, ok := newIdx[p]; !ok {
			d.Removed = append(d.Removed, p)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Modified)
	sort.Strings(d.Removed)
	return d, nil
}
