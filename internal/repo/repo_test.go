package repo_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/trackvault/trackvault/internal/config"
	"github.com/trackvault/trackvault/internal/fs"
	"github.com/trackvault/trackvault/internal/repo"
	"github.com/trackvault/trackvault/internal/snapshot"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestInitAndOpen(t *testing.T) {
	root := t.TempDir()
	osfs := fs.NewOSFS()

	r, err := repo.Init(root, osfs, repo.InitOptions{Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	for _, d := range []string{
		r.Config.VersionsDir(),
		r.Config.ManifestsDir(),
		r.Config.ObjectsDir(),
	} {
		if !osfs.IsDir(d) {
			t.Errorf("missing dir %s", d)
		}
	}
	if !osfs.Exists(r.Config.ConfigFile()) {
		t.Error("config.json not written")
	}

	if _, err := repo.Init(root, osfs, repo.InitOptions{Quiet: true}); !errors.Is(err, repo.ErrRepoExists) {
		t.Fatalf("expected ErrRepoExists, got %v", err)
	}

	r2, err := repo.Open(root, osfs, true)
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()
	if r2.Config.Hash != config.DefaultHash {
		t.Errorf("reopened hash = %q", r2.Config.Hash)
	}
}

func TestOpenMissingRepo(t *testing.T) {
	_, err := repo.Open(t.TempDir(), fs.NewOSFS(), true)
	if !errors.Is(err, repo.ErrRepoNotFound) {
		t.Fatalf("expected ErrRepoNotFound, got %v", err)
	}
}

func TestInitRejectsUnknownHash(t *testing.T) {
	_, err := repo.Init(t.TempDir(), fs.NewOSFS(), repo.InitOptions{Hash: "crc32", Quiet: true})
	if err == nil {
		t.Fatal("expected error for unsupported hash algorithm")
	}
}

func TestEndToEndRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"song.als":       "session",
		"audio/kick.wav": "kick",
		"audio/snare.wav": "snare",
	})

	r, err := repo.Init(root, fs.NewOSFS(), repo.InitOptions{Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	v1, err := r.Snapshots.Commit(snapshot.Options{Message: "first take", Author: "mara"})
	if err != nil {
		t.Fatal(err)
	}

	writeTree(t, root, map[string]string{"audio/kick.wav": "retuned kick"})
	if err := os.Remove(filepath.Join(root, "audio/snare.wav")); err != nil {
		t.Fatal(err)
	}
	v2, err := r.Snapshots.Commit(snapshot.Options{Message: "rework drums"})
	if err != nil {
		t.Fatal(err)
	}

	// restore v1 into a fresh directory and verify bytes
	dest := filepath.Join(t.TempDir(), "restored")
	if err := r.Restorer.Restore(v1.ID, dest); err != nil {
		t.Fatal(err)
	}
	for rel, want := range map[string]string{
		"song.als":        "session",
		"audio/kick.wav":  "kick",
		"audio/snare.wav": "snare",
	} {
		data, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("read restored %s: %v", rel, err)
		}
		if string(data) != want {
			t.Errorf("%s = %q, want %q", rel, data, want)
		}
	}

	d, err := r.DiffVersions(v1.ID, v2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(d.Modified, []string{"audio/kick.wav"}) {
		t.Errorf("Modified = %v", d.Modified)
	}
	if !reflect.DeepEqual(d.Removed, []string{"audio/snare.wav"}) {
		t.Errorf("Removed = %v", d.Removed)
	}
	if len(d.Added) != 0 {
		t.Errorf("Added = %v", d.Added)
	}
}

func TestDiffAgainstEmptyTree(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.wav": "a", "b.wav": "b"})

	r, err := repo.Init(root, fs.NewOSFS(), repo.InitOptions{Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	v1, err := r.Snapshots.Commit(snapshot.Options{})
	if err != nil {
		t.Fatal(err)
	}

	d, err := r.DiffVersions(0, v1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(d.Added, []string{"a.wav", "b.wav"}) {
		t.Errorf("Added = %v", d.Added)
	}
	if d.TotalChanges() != 2 {
		t.Errorf("TotalChanges = %d", d.TotalChanges())
	}
}

func TestZstdRepositoryRoundTrip(t *testing.T) {
	root := t.TempDir()
	content := "pcm pcm pcm pcm pcm pcm pcm pcm pcm pcm"
	writeTree(t, root, map[string]string{"loop.wav": content})

	r, err := repo.Init(root, fs.NewOSFS(), repo.InitOptions{
		Compression: config.CompressionZstd,
		Quiet:       true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	v, err := r.Snapshots.Commit(snapshot.Options{Message: "loop"})
	if err != nil {
		t.Fatal(err)
	}

	// at rest the blob must not hold the plaintext
	man, err := r.History.Manifest(v.ID)
	if err != nil {
		t.Fatal(err)
	}
	blobPath, err := r.Objects.Path(man.Entries[0].Digest)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(blobPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) == content {
		t.Error("blob stored uncompressed in a zstd repository")
	}

	dest := filepath.Join(t.TempDir(), "out")
	if err := r.Restorer.Restore(v.ID, dest); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "loop.wav"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != content {
		t.Errorf("restored = %q", data)
	}
}

func TestDigestCachePersistsAcrossOpens(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.wav": "aaa"})

	r, err := repo.Init(root, fs.NewOSFS(), repo.InitOptions{Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	if r.Cache == nil {
		t.Fatal("digest cache not opened on a writable volume")
	}
	if _, err := r.Snapshots.Commit(snapshot.Options{}); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	r2, err := repo.Open(root, fs.NewOSFS(), true)
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()

	st, err := os.Stat(filepath.Join(root, "a.wav"))
	if err != nil {
		t.Fatal(err)
	}
	d, ok, err := r2.Cache.Get("a.wav", st.Size(), st.ModTime().UnixNano())
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("cache entry for a.wav missing after reopen")
	}
	if !d.Valid() {
		t.Errorf("cached digest %q invalid", d)
	}
}
