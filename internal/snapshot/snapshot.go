// Package snapshot orchestrates change detection, hashing and blob storage to
// commit new versions of a project tree.
package snapshot

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/trackvault/trackvault/internal/cache"
	"github.com/trackvault/trackvault/internal/detect"
	"github.com/trackvault/trackvault/internal/fs"
	"github.com/trackvault/trackvault/internal/hasher"
	"github.com/trackvault/trackvault/internal/history"
	"github.com/trackvault/trackvault/internal/progress"
	"github.com/trackvault/trackvault/internal/scan"
	"github.com/trackvault/trackvault/internal/store/manifest"
	"github.com/trackvault/trackvault/internal/store/object"
	"github.com/trackvault/trackvault/internal/util"
)

// ErrNoChanges is returned when a commit finds nothing to record. Callers opt
// into empty versions with Options.AllowEmpty; a silent duplicate is never
// created.
var ErrNoChanges = errors.New("no changes to commit")

// CommitError wraps the first failure during snapshot assembly with the
// offending path and digest, when known.
type CommitError struct {
	Path   string
	Digest hasher.Digest
	Err    error
}

func (e *CommitError) Error() string {
	switch {
	case e.Path != "" && e.Digest != "":
		return fmt.Sprintf("commit failed at %q (digest %s): %v", e.Path, e.Digest, e.Err)
	case e.Path != "":
		return fmt.Sprintf("commit failed at %q: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("commit failed: %v", e.Err)
	}
}

func (e *CommitError) Unwrap() error { return e.Err }

// Options control one commit.
type Options struct {
	Message string
	Author  string

	// Force bypasses the size/mtime fast path and rehashes every file.
	Force bool

	// AllowEmpty permits committing a version with no detected changes.
	AllowEmpty bool
}

// Manager builds and commits snapshots for one project root. Commits are
// serialized per project by an exclusive lock; the Manager itself performs
// hashing and blob writes in parallel internally.
type Manager struct {
	Root      string // project root being versioned
	FS        fs.FS  // working-tree filesystem
	Hash      *hasher.Hasher
	Objects   *object.Store
	Manifests *manifest.Store
	History   *history.History
	Scanner   *scan.Scanner
	Cache     *cache.FileCache // optional digest cache; nil disables
	LockPath  string
	Quiet     bool

	// FileHash overrides content hashing when set; tests use a counting
	// implementation.
	FileHash hasher.FileHasher
}

func (m *Manager) fileHasher() hasher.FileHasher {
	if m.FileHash != nil {
		return m.FileHash
	}
	return m.Hash
}

// Changes classifies the working tree against the latest version without
// committing anything.
func (m *Manager) Changes(force bool) (detect.Result, error) {
	prior, err := m.priorManifest()
	if err != nil {
		return detect.Result{}, err
	}
	files, err := m.Scanner.Scan()
	if err != nil {
		return detect.Result{}, fmt.Errorf("scan working tree: %w", err)
	}
	return detect.Classify(files, prior, force), nil
}

func (m *Manager) priorManifest() (*manifest.Manifest, error) {
	latest, err := m.History.Latest()
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}
	man, err := m.History.Manifests.Load(latest.ManifestID)
	if err != nil {
		return nil, err
	}
	return &man, nil
}

// Commit takes a snapshot of the project root and appends it to history.
//
// The new version becomes visible only after its manifest and every
// referenced blob are durably stored; a failure at any step leaves history
// unchanged. With no detected changes Commit returns ErrNoChanges unless
// AllowEmpty is set. The first version of a project is always permitted, even
// for an empty tree.
func (m *Manager) Commit(opts Options) (*history.Version, error) {
	lock, err := history.AcquireLock(m.FS, m.LockPath)
	if err != nil {
		return nil, &CommitError{Err: err}
	}
	defer lock.Release()

	_ = m.Objects.CleanupTemp()

	latest, err := m.History.Latest()
	if err != nil {
		return nil, &CommitError{Err: err}
	}
	var prior *manifest.Manifest
	if latest != nil {
		man, err := m.History.Manifests.Load(latest.ManifestID)
		if err != nil {
			return nil, &CommitError{Err: err}
		}
		prior = &man
	}

	files, err := m.Scanner.Scan()
	if err != nil {
		return nil, &CommitError{Err: fmt.Errorf("scan working tree: %w", err)}
	}

	res := detect.Classify(files, prior, opts.Force)
	if latest != nil && !res.HasChanges() && !opts.AllowEmpty {
		return nil, ErrNoChanges
	}

	entries, err := m.buildEntries(res, opts.Force)
	if err != nil {
		return nil, err
	}

	man, err := manifest.New(m.Hash, entries)
	if err != nil {
		return nil, &CommitError{Err: err}
	}
	// A force commit classifies every file as a candidate, so the stat-level
	// check above cannot tell whether anything really changed. The manifest ID
	// is content-derived; an unchanged ID means an identical tree.
	if latest != nil && man.ID == latest.ManifestID && !opts.AllowEmpty {
		return nil, ErrNoChanges
	}
	if err := m.Manifests.Save(man); err != nil {
		return nil, &CommitError{Err: err}
	}

	var parent uint64
	if latest != nil {
		parent = latest.ID
	}
	v := history.Version{
		ID:         parent + 1,
		Parent:     parent,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Message:    opts.Message,
		Author:     opts.Author,
		ManifestID: man.ID,
	}
	if err := m.History.Append(v); err != nil {
		return nil, &CommitError{Err: err}
	}
	return &v, nil
}

// buildEntries reuses unchanged prior entries and hashes/stores candidates in
// parallel. Digest computation per file is independent, as are blob writes of
// distinct digests.
func (m *Manager) buildEntries(res detect.Result, force bool) ([]manifest.FileEntry, error) {
	var candidates []detect.Decision
	var entries []manifest.FileEntry
	for _, d := range res.Decisions {
		switch d.Action {
		case detect.Unchanged:
			entries = append(entries, d.Prior)
		case detect.Candidate:
			candidates = append(candidates, d)
		}
		// Removed paths are simply omitted.
	}

	if len(candidates) == 0 {
		return entries, nil
	}

	var bar *progress.Tracker
	if m.Quiet {
		bar = progress.NewQuiet(len(candidates))
	} else {
		bar = progress.New(len(candidates), "Storing files ")
		defer bar.Finish()
	}

	var mu sync.Mutex
	err := util.Parallel(candidates, util.WorkerCount(), func(d detect.Decision) error {
		entry, err := m.storeCandidate(d, force)
		if err != nil {
			return err
		}
		mu.Lock()
		entries = append(entries, entry)
		mu.Unlock()
		bar.Increment()
		return nil
	})
	if err != nil {
		var ce *CommitError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, &CommitError{Err: err}
	}
	return entries, nil
}

// storeCandidate hashes one candidate and stores its blob via
// contains-then-put. Two paths with identical bytes, in the same or different
// versions, collapse to a single stored blob here. A force commit must not
// consult the cache: its entries are keyed by the same size/mtime signature
// the force mode exists to distrust.
func (m *Manager) storeCandidate(d detect.Decision, force bool) (manifest.FileEntry, error) {
	abs := filepath.Join(m.Root, filepath.FromSlash(d.Path))

	var digest hasher.Digest
	cached := false
	if m.Cache != nil && !force {
		if cd, ok, err := m.Cache.Get(d.Path, d.File.Size, d.File.MTime); err == nil && ok {
			digest, cached = cd, true
		}
	}
	if !cached {
		var err error
		digest, err = m.fileHasher().SumFile(abs)
		if err != nil {
			return manifest.FileEntry{}, &CommitError{Path: d.Path, Err: err}
		}
	}

	if !m.Objects.Contains(digest) {
		if err := m.Objects.PutFile(m.FS, abs, digest); err != nil {
			return manifest.FileEntry{}, &CommitError{Path: d.Path, Digest: digest, Err: err}
		}
	}

	if m.Cache != nil && !cached {
		_ = m.Cache.Put(d.Path, d.File.Size, d.File.MTime, digest)
	}

	return manifest.FileEntry{
		Path:   d.Path,
		Digest: digest,
		Size:   d.File.Size,
		MTime:  d.File.MTime,
	}, nil
}
