package snapshot_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/trackvault/trackvault/internal/cache"
	"github.com/trackvault/trackvault/internal/config"
	"github.com/trackvault/trackvault/internal/fs"
	"github.com/trackvault/trackvault/internal/hasher"
	"github.com/trackvault/trackvault/internal/history"
	"github.com/trackvault/trackvault/internal/scan"
	"github.com/trackvault/trackvault/internal/snapshot"
	"github.com/trackvault/trackvault/internal/store/manifest"
	"github.com/trackvault/trackvault/internal/store/object"
)

// countingHasher counts SumFile calls per path so tests can prove unchanged
// files are never rehashed.
type countingHasher struct {
	inner hasher.FileHasher

	mu    sync.Mutex
	calls map[string]int
}

func (c *countingHasher) SumFile(path string) (hasher.Digest, error) {
	c.mu.Lock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[path]++
	c.mu.Unlock()
	return c.inner.SumFile(path)
}

func (c *countingHasher) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

type failingHasher struct {
	inner   hasher.FileHasher
	failSub string
}

func (f *failingHasher) SumFile(path string) (hasher.Digest, error) {
	if f.failSub != "" && strings.Contains(path, f.failSub) {
		return "", fmt.Errorf("simulated read failure for %s", path)
	}
	return f.inner.SumFile(path)
}

func newManager(t *testing.T) (*snapshot.Manager, *fs.MemoryFS) {
	t.Helper()
	m := fs.NewMemoryFS()
	root := "proj"
	repo := root + "/" + config.RepoDir
	for _, d := range []string{root, repo, repo + "/versions", repo + "/manifests", repo + "/objects"} {
		if err := m.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	h, err := hasher.New(config.DefaultHash, m)
	if err != nil {
		t.Fatal(err)
	}
	manifests := manifest.NewStore(repo+"/manifests", m)
	mgr := &snapshot.Manager{
		Root:      root,
		FS:        m,
		Hash:      h,
		Objects:   object.New(repo+"/objects", m),
		Manifests: manifests,
		History:   history.New(repo+"/versions", repo+"/LATEST", m, manifests),
		Scanner:   scan.NewScanner(root, m, scan.NewIgnore(m, root+"/"+config.IgnoreFile)),
		LockPath:  repo + "/LOCK",
		Quiet:     true,
	}
	return mgr, m
}

func writeFile(t *testing.T, m *fs.MemoryFS, path, content string) {
	t.Helper()
	if err := m.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCommitLifecycle(t *testing.T) {
	mgr, m := newManager(t)

	// v1: empty project tree is a valid first version
	v1, err := mgr.Commit(snapshot.Options{Message: "init"})
	if err != nil {
		t.Fatalf("empty first commit: %v", err)
	}
	if v1.ID != 1 || v1.Parent != 0 {
		t.Fatalf("v1 = %+v", v1)
	}

	// v2: one new file, one blob
	writeFile(t, m, "proj/a.wav", "drum take 1")
	v2, err := mgr.Commit(snapshot.Options{Message: "add a"})
	if err != nil {
		t.Fatal(err)
	}
	if v2.ID != 2 || v2.Parent != 1 {
		t.Fatalf("v2 = %+v", v2)
	}
	if n, _ := mgr.Objects.Count(); n != 1 {
		t.Fatalf("object count after v2 = %d", n)
	}

	// v3: identical copy dedups to the same blob
	writeFile(t, m, "proj/b.wav", "drum take 1")
	v3, err := mgr.Commit(snapshot.Options{Message: "copy a to b"})
	if err != nil {
		t.Fatal(err)
	}
	man3, err := mgr.History.Manifest(v3.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(man3.Entries) != 2 {
		t.Fatalf("v3 entries = %d", len(man3.Entries))
	}
	if man3.Entries[0].Digest != man3.Entries[1].Digest {
		t.Error("identical content must share a digest")
	}
	if n, _ := mgr.Objects.Count(); n != 1 {
		t.Fatalf("object count after v3 = %d, want 1 (deduplicated)", n)
	}

	// v4: deletion drops the manifest entry, blob remains reachable via v2/v3
	if err := m.Remove("proj/a.wav"); err != nil {
		t.Fatal(err)
	}
	v4, err := mgr.Commit(snapshot.Options{Message: "drop a"})
	if err != nil {
		t.Fatal(err)
	}
	man4, err := mgr.History.Manifest(v4.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(man4.Entries) != 1 || man4.Entries[0].Path != "b.wav" {
		t.Fatalf("v4 entries = %+v", man4.Entries)
	}
	if n, _ := mgr.Objects.Count(); n != 1 {
		t.Fatalf("object count after v4 = %d", n)
	}
}

func TestCommitNoChanges(t *testing.T) {
	mgr, m := newManager(t)
	writeFile(t, m, "proj/a.wav", "x")

	if _, err := mgr.Commit(snapshot.Options{}); err != nil {
		t.Fatal(err)
	}
	_, err := mgr.Commit(snapshot.Options{})
	if !errors.Is(err, snapshot.ErrNoChanges) {
		t.Fatalf("expected ErrNoChanges, got %v", err)
	}

	// AllowEmpty opts into an explicit empty version
	v, err := mgr.Commit(snapshot.Options{AllowEmpty: true, Message: "checkpoint"})
	if err != nil {
		t.Fatal(err)
	}
	if v.ID != 2 {
		t.Fatalf("empty version ID = %d", v.ID)
	}
}

func TestCommitSkipsUnchangedHashing(t *testing.T) {
	mgr, m := newManager(t)
	counter := &countingHasher{inner: mgr.Hash}
	mgr.FileHash = counter

	writeFile(t, m, "proj/a.wav", "aaa")
	writeFile(t, m, "proj/b.wav", "bbb")
	if _, err := mgr.Commit(snapshot.Options{}); err != nil {
		t.Fatal(err)
	}
	if counter.total() != 2 {
		t.Fatalf("first commit hashed %d files, want 2", counter.total())
	}

	// touch only b; a must be reused from the prior manifest without rehash
	writeFile(t, m, "proj/b.wav", "bbb2")
	if _, err := mgr.Commit(snapshot.Options{}); err != nil {
		t.Fatal(err)
	}
	if counter.total() != 3 {
		t.Fatalf("second commit total = %d, want 3 (only b rehashed)", counter.total())
	}
	if counter.calls["proj/a.wav"] != 1 {
		t.Errorf("a.wav hashed %d times, want 1", counter.calls["proj/a.wav"])
	}
}

func TestForceRehashesEverything(t *testing.T) {
	mgr, m := newManager(t)
	counter := &countingHasher{inner: mgr.Hash}
	mgr.FileHash = counter

	writeFile(t, m, "proj/a.wav", "aaa")
	if _, err := mgr.Commit(snapshot.Options{}); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Commit(snapshot.Options{Force: true, AllowEmpty: true}); err != nil {
		t.Fatal(err)
	}
	if counter.calls["proj/a.wav"] != 2 {
		t.Errorf("force commit did not rehash: calls = %d", counter.calls["proj/a.wav"])
	}
}

// newOSManager builds a manager on the real filesystem with the digest cache
// attached, for tests that need genuine stat signatures.
func newOSManager(t *testing.T) (*snapshot.Manager, string) {
	t.Helper()
	root := t.TempDir()
	osfs := fs.NewOSFS()
	repoDir := filepath.Join(root, config.RepoDir)
	for _, d := range []string{
		repoDir,
		filepath.Join(repoDir, config.VersionsDir),
		filepath.Join(repoDir, config.ManifestsDir),
		filepath.Join(repoDir, config.ObjectsDir),
	} {
		if err := osfs.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	h, err := hasher.New(config.DefaultHash, osfs)
	if err != nil {
		t.Fatal(err)
	}
	c, err := cache.Open(filepath.Join(repoDir, config.CacheFile))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })

	manifests := manifest.NewStore(filepath.Join(repoDir, config.ManifestsDir), osfs)
	return &snapshot.Manager{
		Root:      root,
		FS:        osfs,
		Hash:      h,
		Objects:   object.New(filepath.Join(repoDir, config.ObjectsDir), osfs),
		Manifests: manifests,
		History:   history.New(filepath.Join(repoDir, config.VersionsDir), filepath.Join(repoDir, config.LatestFile), osfs, manifests),
		Scanner:   scan.NewScanner(root, osfs, scan.NewIgnore(osfs, filepath.Join(root, config.IgnoreFile))),
		Cache:     c,
		LockPath:  filepath.Join(repoDir, config.LockFile),
		Quiet:     true,
	}, root
}

func TestForceCommitBypassesDigestCache(t *testing.T) {
	mgr, root := newOSManager(t)
	path := filepath.Join(root, "a.wav")

	if err := os.WriteFile(path, []byte("AAAA"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Commit(snapshot.Options{Message: "first"}); err != nil {
		t.Fatal(err)
	}

	// Rewrite with same-size content and forge the old mtime back, so the
	// stat signature (and the cache key) is unchanged.
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("BBBB"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, st.ModTime(), st.ModTime()); err != nil {
		t.Fatal(err)
	}

	v, err := mgr.Commit(snapshot.Options{Message: "forced", Force: true})
	if err != nil {
		t.Fatal(err)
	}

	man, err := mgr.History.Manifest(v.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := mgr.Hash.SumBytes([]byte("BBBB"))
	if man.Entries[0].Digest != want {
		t.Fatalf("force commit recorded digest %s, want %s (fresh content)", man.Entries[0].Digest, want)
	}
	if !mgr.Objects.Contains(want) {
		t.Error("fresh content not stored")
	}
}

func TestForceCommitWithoutChanges(t *testing.T) {
	mgr, m := newManager(t)
	writeFile(t, m, "proj/a.wav", "aaa")

	v1, err := mgr.Commit(snapshot.Options{})
	if err != nil {
		t.Fatal(err)
	}

	// Nothing changed: force rehashes everything but must not record a
	// duplicate version.
	_, err = mgr.Commit(snapshot.Options{Force: true})
	if !errors.Is(err, snapshot.ErrNoChanges) {
		t.Fatalf("expected ErrNoChanges, got %v", err)
	}
	if id, _ := mgr.History.LatestID(); id != v1.ID {
		t.Errorf("duplicate version recorded: latest = %d", id)
	}

	v2, err := mgr.Commit(snapshot.Options{Force: true, AllowEmpty: true})
	if err != nil {
		t.Fatal(err)
	}
	if v2.ID != v1.ID+1 {
		t.Errorf("AllowEmpty force commit ID = %d", v2.ID)
	}
}

func TestCommitFailureLeavesHistoryUnchanged(t *testing.T) {
	mgr, m := newManager(t)

	writeFile(t, m, "proj/a.wav", "original")
	v1, err := mgr.Commit(snapshot.Options{})
	if err != nil {
		t.Fatal(err)
	}

	mgr.FileHash = &failingHasher{inner: mgr.Hash, failSub: "broken"}
	writeFile(t, m, "proj/broken.wav", "unreadable")

	_, err = mgr.Commit(snapshot.Options{})
	if err == nil {
		t.Fatal("expected commit failure")
	}
	var ce *snapshot.CommitError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CommitError, got %T: %v", err, err)
	}
	if ce.Path != "broken.wav" {
		t.Errorf("CommitError.Path = %q", ce.Path)
	}

	latest, err := mgr.History.Latest()
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != v1.ID {
		t.Errorf("history advanced to %d after failed commit", latest.ID)
	}

	// lock must have been released; a clean retry succeeds
	mgr.FileHash = nil
	if _, err := mgr.Commit(snapshot.Options{}); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestCommitBlockedByLock(t *testing.T) {
	mgr, m := newManager(t)
	writeFile(t, m, "proj/a.wav", "x")

	l, err := history.AcquireLock(m, mgr.LockPath)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	_, err = mgr.Commit(snapshot.Options{})
	if !errors.Is(err, history.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestChangesReportsWithoutCommitting(t *testing.T) {
	mgr, m := newManager(t)
	writeFile(t, m, "proj/a.wav", "x")

	res, err := mgr.Changes(false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasChanges() {
		t.Fatal("expected pending changes")
	}
	if id, _ := mgr.History.LatestID(); id != 0 {
		t.Errorf("Changes committed a version: latest = %d", id)
	}
}
