// Package repo wires the engine's components together for one project root.
package repo

import (
	"errors"
	"fmt"

	"github.com/trackvault/trackvault/internal/cache"
	"github.com/trackvault/trackvault/internal/config"
	"github.com/trackvault/trackvault/internal/fs"
	"github.com/trackvault/trackvault/internal/hasher"
	"github.com/trackvault/trackvault/internal/history"
	"github.com/trackvault/trackvault/internal/restore"
	"github.com/trackvault/trackvault/internal/scan"
	"github.com/trackvault/trackvault/internal/snapshot"
	"github.com/trackvault/trackvault/internal/store/manifest"
	"github.com/trackvault/trackvault/internal/store/object"
)

var (
	ErrRepoExists   = errors.New("repository already initialized")
	ErrRepoNotFound = errors.New("no repository found")
)

// Repository is an initialized project with all engine components attached.
type Repository struct {
	Config    *config.RepoConfig
	FS        fs.FS
	Hash      *hasher.Hasher
	Objects   *object.Store
	Manifests *manifest.Store
	History   *history.History
	Snapshots *snapshot.Manager
	Restorer  *restore.Engine
	Cache     *cache.FileCache
}

// InitOptions select repository-lifetime parameters, fixed at init.
type InitOptions struct {
	Hash        string // digest algorithm; default xxh3
	Compression string // blob compression; default none
	Quiet       bool
}

// Init creates a new repository at projectRoot. Fails with ErrRepoExists if
// one is already present.
func Init(projectRoot string, fsys fs.FS, opts InitOptions) (*Repository, error) {
	cfg := config.NewRepoConfig(projectRoot)
	if fsys.Exists(cfg.ConfigFile()) {
		return nil, fmt.Errorf("%w at %q", ErrRepoExists, projectRoot)
	}
	if opts.Hash != "" {
		cfg.Hash = opts.Hash
	}
	if opts.Compression != "" {
		cfg.Compression = opts.Compression
	}

	for _, d := range []string{cfg.RepoRoot, cfg.VersionsDir(), cfg.ManifestsDir(), cfg.ObjectsDir()} {
		if err := fsys.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %q: %w", d, err)
		}
	}
	if err := cfg.Save(fsys); err != nil {
		return nil, err
	}
	return wire(cfg, fsys, opts.Quiet)
}

// Open opens an existing repository at projectRoot. Fails with
// ErrRepoNotFound if none exists.
func Open(projectRoot string, fsys fs.FS, quiet bool) (*Repository, error) {
	cfg := config.NewRepoConfig(projectRoot)
	if !fsys.Exists(cfg.ConfigFile()) {
		return nil, fmt.Errorf("%w at %q", ErrRepoNotFound, projectRoot)
	}
	if err := cfg.Load(fsys); err != nil {
		return nil, err
	}
	return wire(cfg, fsys, quiet)
}

func wire(cfg *config.RepoConfig, fsys fs.FS, quiet bool) (*Repository, error) {
	h, err := hasher.New(cfg.Hash, fsys)
	if err != nil {
		return nil, err
	}

	blobFS := fsys
	if cfg.Compression == config.CompressionZstd {
		zfs, err := fs.NewZstdFS(fsys)
		if err != nil {
			return nil, fmt.Errorf("init zstd codec: %w", err)
		}
		blobFS = zfs
	}

	objects := object.New(cfg.ObjectsDir(), blobFS)
	manifests := manifest.NewStore(cfg.ManifestsDir(), fsys)
	hist := history.New(cfg.VersionsDir(), cfg.LatestFile(), fsys, manifests)

	ignore := scan.NewIgnore(fsys, cfg.IgnoreFile())
	scanner := scan.NewScanner(cfg.ProjectRoot, fsys, ignore)

	// The digest cache is an optimization; a failure to open it (e.g. a
	// read-only volume) never blocks commits.
	fileCache, _ := cache.Open(cfg.CacheFile())

	r := &Repository{
		Config:    cfg,
		FS:        fsys,
		Hash:      h,
		Objects:   objects,
		Manifests: manifests,
		History:   hist,
		Cache:     fileCache,
	}
	r.Snapshots = &snapshot.Manager{
		Root:      cfg.ProjectRoot,
		FS:        fsys,
		Hash:      h,
		Objects:   objects,
		Manifests: manifests,
		History:   hist,
		Scanner:   scanner,
		Cache:     fileCache,
		LockPath:  cfg.LockFile(),
		Quiet:     quiet,
	}
	r.Restorer = &restore.Engine{
		FS:      fsys,
		Objects: objects,
		History: hist,
		Ignore:  ignore,
		Quiet:   quiet,
	}
	return r, nil
}

// Close releases resources held by the repository.
func (r *Repository) Close() error {
	if r.Cache != nil {
		return r.Cache.Close()
	}
	return nil
}
