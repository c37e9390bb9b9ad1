// Package detect decides which working-tree paths need re-hashing for a new
// snapshot, using cheap stat metadata against the previous manifest.
package detect

import (
	"github.com/trackvault/trackvault/internal/scan"
	"github.com/trackvault/trackvault/internal/store/manifest"
)

// Action classifies one path relative to the prior snapshot.
type Action int

const (
	// Unchanged: size and mtime match the prior entry; reuse it without
	// reading file content.
	Unchanged Action = iota
	// Candidate: new path, or size/mtime differ; must be hashed.
	Candidate
	// Removed: present in the prior manifest, absent on disk.
	Removed
)

func (a Action) String() string {
	switch a {
	case Unchanged:
		return "unchanged"
	case Candidate:
		return "candidate"
	default:
		return "removed"
	}
}

// Decision is the verdict for one path. For Unchanged decisions Prior carries
// the manifest entry to reuse verbatim; for Candidates File carries the
// current stat data.
type Decision struct {
	Path   string
	Action Action
	Prior  manifest.FileEntry
	File   scan.File
}

// Result groups decisions for a snapshot run.
type Result struct {
	Decisions []Decision
}

func (r *Result) Count(a Action) int {
	n := 0
	for _, d := range r.Decisions {
		if d.Action == a {
			n++
		}
	}
	return n
}

// HasChanges reports whether anything differs from the prior manifest.
func (r *Result) HasChanges() bool {
	for _, d := range r.Decisions {
		if d.Action != Unchanged {
			return true
		}
	}
	return false
}

// Classify compares scanned files against the prior manifest. prior may be
// nil for the first snapshot, making every file a candidate. With force set
// the size/mtime fast path is bypassed and every present file is a candidate;
// this is the escape hatch for the heuristic's blind spot (content changes
// that preserve both size and mtime).
func Classify(files []scan.File, prior *manifest.Manifest, force bool) Result {
	var prev map[string]manifest.FileEntry
	if prior != nil {
		prev = prior.Lookup()
	}

	res := Result{Decisions: make([]Decision, 0, len(files))}
	seen := make(map[string]bool, len(files))

	for _, f := range files {
		seen[f.RelPath] = true

		if !force {
			if p, ok := prev[f.RelPath]; ok && p.Size == f.Size && p.MTime == f.MTime {
				res.Decisions = append(res.Decisions, Decision{
					Path:   f.RelPath,
					Action: Unchanged,
					Prior:  p,
				})
				continue
			}
		}
		res.Decisions = append(res.Decisions, Decision{
			Path:   f.RelPath,
			Action: Candidate,
			File:   f,
		})
	}

	if prior != nil {
		for _, e := range prior.Entries {
			if !seen[e.Path] {
				res.Decisions = append(res.Decisions, Decision{
					Path:   e.Path,
					Action: Removed,
					Prior:  e,
				})
			}
		}
	}
	return res
}
