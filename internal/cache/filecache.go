// Package cache provides a file digest cache to avoid rehashing files whose
// stat signature has not changed, for example across status checks or after a
// restore warmed it.
package cache

import (
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/trackvault/trackvault/internal/hasher"
)

// FileCache caches file digests keyed by (path, size, mtime).
type FileCache struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS file_cache (
	path TEXT PRIMARY KEY,
	size INTEGER NOT NULL,
	mtime INTEGER NOT NULL,
	digest TEXT NOT NULL
);
`

// Open opens or creates the cache database at dbPath.
func Open(dbPath string) (*FileCache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &FileCache{db: db}, nil
}

func (c *FileCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get returns the cached digest for path if the stored stat signature still
// matches. A miss or stale entry returns ok=false.
func (c *FileCache) Get(path string, size, mtime int64) (hasher.Digest, bool, error) {
	var cachedSize, cachedMtime int64
	var digest string
	err := c.db.QueryRow(
		"SELECT size, mtime, digest FROM file_cache WHERE path = ?",
		path,
	).Scan(&cachedSize, &cachedMtime, &digest)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if cachedSize == size && cachedMtime == mtime {
		return hasher.Digest(digest), true, nil
	}
	return "", false, nil
}

// Put records a freshly computed digest for path.
func (c *FileCache) Put(path string, size, mtime int64, d hasher.Digest) error {
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO file_cache (path, size, mtime, digest)
		 VALUES (?, ?, ?, ?)`,
		path, size, mtime, string(d),
	)
	return err
}
