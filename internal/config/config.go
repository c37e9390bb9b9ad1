package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/trackvault/trackvault/internal/fs"
)

const (
	// RepoDir is the name of the engine state directory inside a project root.
	RepoDir = ".trackvault"

	VersionsDir  = "versions"
	ManifestsDir = "manifests"
	ObjectsDir   = "objects"

	LatestFile = "LATEST"
	LockFile   = "LOCK"
	ConfigFile = "config.json"
	CacheFile  = "digests.db"

	IgnoreFile = ".trackvault-ignore"
)

// EngineVersion is written into config.json at init time.
const EngineVersion = "1.0.0"

const (
	HashXXH3   = "xxh3"
	HashSHA256 = "sha256"
	HashBlake3 = "blake3"

	DefaultHash = HashXXH3
)

const (
	CompressionNone = "none"
	CompressionZstd = "zstd"

	DefaultCompression = CompressionNone
)

// DefaultIgnored are always excluded from scans and restores. The ignore
// file itself is tracked like any other project file, so a project's ignore
// rules travel with its versions.
var DefaultIgnored = []string{RepoDir}

// RepoConfig describes the on-disk layout of one project's repository.
type RepoConfig struct {
	ProjectRoot string // the directory being versioned
	RepoRoot    string // ProjectRoot/.trackvault

	Hash        string // digest algorithm, fixed at init
	Compression string // blob compression codec, fixed at init
}

// NewRepoConfig builds a RepoConfig rooted at projectRoot with defaults.
func NewRepoConfig(projectRoot string) *RepoConfig {
	return &RepoConfig{
		ProjectRoot: filepath.Clean(projectRoot),
		RepoRoot:    filepath.Join(filepath.Clean(projectRoot), RepoDir),
		Hash:        DefaultHash,
		Compression: DefaultCompression,
	}
}

func (c *RepoConfig) VersionsDir() string  { return filepath.Join(c.RepoRoot, VersionsDir) }
func (c *RepoConfig) ManifestsDir() string { return filepath.Join(c.RepoRoot, ManifestsDir) }
func (c *RepoConfig) ObjectsDir() string   { return filepath.Join(c.RepoRoot, ObjectsDir) }
func (c *RepoConfig) LatestFile() string   { return filepath.Join(c.RepoRoot, LatestFile) }
func (c *RepoConfig) LockFile() string     { return filepath.Join(c.RepoRoot, LockFile) }
func (c *RepoConfig) ConfigFile() string   { return filepath.Join(c.RepoRoot, ConfigFile) }
func (c *RepoConfig) CacheFile() string    { return filepath.Join(c.RepoRoot, CacheFile) }
func (c *RepoConfig) IgnoreFile() string   { return filepath.Join(c.ProjectRoot, IgnoreFile) }

// fileFormat is the persisted shape of config.json.
type fileFormat struct {
	Version     string `json:"version"`
	CreatedAt   string `json:"created_at"`
	Hash        string `json:"hash"`
	Compression string `json:"compression"`
}

// Save writes config.json.
func (c *RepoConfig) Save(fsys fs.FS) error {
	data, err := json.MarshalIndent(fileFormat{
		Version:     EngineVersion,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		Hash:        c.Hash,
		Compression: c.Compression,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := fsys.WriteFile(c.ConfigFile(), data, 0o644); err != nil {
		return fmt.Errorf("write config %q: %w", c.ConfigFile(), err)
	}
	return nil
}

// Load reads config.json and fills in the algorithm fields.
// Missing fields fall back to defaults so older repos keep working.
func (c *RepoConfig) Load(fsys fs.FS) error {
	data, err := fsys.ReadFile(c.ConfigFile())
	if err != nil {
		return fmt.Errorf("read config %q: %w", c.ConfigFile(), err)
	}
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config %q: %w", c.ConfigFile(), err)
	}
	if f.Hash != "" {
		c.Hash = f.Hash
	}
	if f.Compression != "" {
		c.Compression = f.Compression
	}
	return nil
}
