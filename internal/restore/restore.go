// Package restore reconstructs a directory tree from a committed version and
// the object store. Content is fully staged before the destination is
// touched, so a failed restore leaves the destination exactly as it was.
package restore

import (
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sort"

	"github.com/trackvault/trackvault/internal/config"
	"github.com/trackvault/trackvault/internal/fs"
	"github.com/trackvault/trackvault/internal/hasher"
	"github.com/trackvault/trackvault/internal/history"
	"github.com/trackvault/trackvault/internal/progress"
	"github.com/trackvault/trackvault/internal/scan"
	"github.com/trackvault/trackvault/internal/store/manifest"
	"github.com/trackvault/trackvault/internal/store/object"
	"github.com/trackvault/trackvault/internal/util"
)

// RestoreError identifies the path and digest a reconstruction failed on.
type RestoreError struct {
	Path   string
	Digest hasher.Digest
	Err    error
}

func (e *RestoreError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("restore failed at %q (digest %s): %v", e.Path, e.Digest, e.Err)
	}
	return fmt.Sprintf("restore failed: %v", e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// Engine materializes versions into directories.
type Engine struct {
	FS      fs.FS
	Objects *object.Store
	History *history.History
	Ignore  *scan.Ignore // protects ignored paths from in-place pruning
	Quiet   bool
}

// Restore reconstructs version id at dest, byte-for-byte.
//
// Every referenced blob is checked and fully staged before dest is touched;
// a missing or unreadable blob aborts with the destination untouched. A
// non-existent dest is created by atomically promoting the staged tree. An
// existing dest is updated in place: manifest files are swapped in one by one
// and files not present in the manifest are pruned, leaving the engine's own
// state directory alone. In-place promotion is per-file, not one atomic
// step: each individual swap is an atomic rename, but a failure between
// swaps leaves dest partially updated. All content is already staged locally
// at that point, so re-running the restore completes it.
func (e *Engine) Restore(id uint64, dest string) error {
	man, err := e.History.Manifest(id)
	if err != nil {
		return &RestoreError{Err: err}
	}

	// Pre-flight: abort before touching anything if any blob is absent.
	for _, entry := range man.Entries {
		if !e.Objects.Contains(entry.Digest) {
			return &RestoreError{Path: entry.Path, Digest: entry.Digest, Err: object.ErrNotFound}
		}
	}

	dest = filepath.Clean(dest)
	stage := dest + ".restore-tmp"
	_ = e.FS.RemoveAll(stage)
	if err := e.FS.MkdirAll(stage, 0o755); err != nil {
		return &RestoreError{Err: fmt.Errorf("create staging dir: %w", err)}
	}

	if err := e.stageAll(man, stage); err != nil {
		_ = e.FS.RemoveAll(stage)
		return err
	}

	if !e.FS.Exists(dest) {
		if err := e.FS.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			_ = e.FS.RemoveAll(stage)
			return &RestoreError{Err: err}
		}
		if err := e.FS.Rename(stage, dest); err != nil {
			_ = e.FS.RemoveAll(stage)
			return &RestoreError{Err: fmt.Errorf("promote staged tree: %w", err)}
		}
		return nil
	}

	err = e.promoteInPlace(man, stage, dest)
	_ = e.FS.RemoveAll(stage)
	return err
}

// stageAll copies every manifest entry out of the object store into the
// staging tree. This is where blob read errors surface, before dest changes.
func (e *Engine) stageAll(man manifest.Manifest, stage string) error {
	var bar *progress.Tracker
	if e.Quiet {
		bar = progress.NewQuiet(len(man.Entries))
	} else {
		bar = progress.New(len(man.Entries), "Restoring files ")
		defer bar.Finish()
	}

	return util.Parallel(man.Entries, util.WorkerCount(), func(entry manifest.FileEntry) error {
		target := filepath.Join(stage, filepath.FromSlash(entry.Path))
		if err := e.FS.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return &RestoreError{Path: entry.Path, Digest: entry.Digest, Err: err}
		}

		src, err := e.Objects.Get(entry.Digest)
		if err != nil {
			return &RestoreError{Path: entry.Path, Digest: entry.Digest, Err: err}
		}
		defer src.Close()

		tmp, tmpPath, err := e.FS.CreateTempFile(filepath.Dir(target), "tmp-*")
		if err != nil {
			return &RestoreError{Path: entry.Path, Digest: entry.Digest, Err: err}
		}
		if _, err := io.Copy(tmp, src); err != nil {
			tmp.Close()
			e.FS.Remove(tmpPath)
			return &RestoreError{Path: entry.Path, Digest: entry.Digest, Err: err}
		}
		if err := tmp.Close(); err != nil {
			e.FS.Remove(tmpPath)
			return &RestoreError{Path: entry.Path, Digest: entry.Digest, Err: err}
		}
		if err := e.FS.Rename(tmpPath, target); err != nil {
			e.FS.Remove(tmpPath)
			return &RestoreError{Path: entry.Path, Digest: entry.Digest, Err: err}
		}
		bar.Increment()
		return nil
	})
}

// promoteInPlace swaps staged files into an existing destination and prunes
// everything the manifest does not name.
func (e *Engine) promoteInPlace(man manifest.Manifest, stage, dest string) error {
	for _, entry := range man.Entries {
		from := filepath.Join(stage, filepath.FromSlash(entry.Path))
		to := filepath.Join(dest, filepath.FromSlash(entry.Path))
		if err := e.FS.MkdirAll(filepath.Dir(to), 0o755); err != nil {
			return &RestoreError{Path: entry.Path, Digest: entry.Digest, Err: err}
		}
		if err := e.FS.Rename(from, to); err != nil {
			return &RestoreError{Path: entry.Path, Digest: entry.Digest, Err: err}
		}
	}
	return e.prune(man, dest)
}

// prune removes files under dest that the manifest does not reference, then
// empty directories deepest-first. The engine state dir and ignored paths are
// left untouched.
func (e *Engine) prune(man manifest.Manifest, dest string) error {
	valid := make(map[string]bool, len(man.Entries))
	for _, entry := range man.Entries {
		valid[entry.Path] = true
	}

	var dirs []string
	var walk func(rel string) error
	walk = func(rel string) error {
		dir := dest
		if rel != "" {
			dir = filepath.Join(dest, filepath.FromSlash(rel))
		}
		entries, err := e.FS.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, de := range entries {
			childRel := de.Name()
			if rel != "" {
				childRel = path.Join(rel, de.Name())
			}
			if childRel == config.RepoDir || (e.Ignore != nil && e.Ignore.Match(childRel)) {
				continue
			}
			if de.IsDir() {
				dirs = append(dirs, childRel)
				if err := walk(childRel); err != nil {
					return err
				}
				continue
			}
			if !valid[childRel] {
				_ = e.FS.Remove(filepath.Join(dest, filepath.FromSlash(childRel)))
			}
		}
		return nil
	}
	if err := walk(""); err != nil {
		return &RestoreError{Err: fmt.Errorf("prune destination: %w", err)}
	}

	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, d := range dirs {
		abs := filepath.Join(dest, filepath.FromSlash(d))
		if entries, err := e.FS.ReadDir(abs); err == nil && len(entries) == 0 {
			_ = e.FS.Remove(abs)
		}
	}
	return nil
}
