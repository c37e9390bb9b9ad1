package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/trackvault/trackvault/internal/fs"
)

// ErrLocked means another commit holds the project's exclusive commit lock.
var ErrLocked = errors.New("repository is locked by another commit")

// Lock is the per-project exclusive commit lock. Only one commit may be in
// flight per version history; restores do not take it.
type Lock struct {
	path string
	fsys fs.FS

	Token string `json:"token"`
	PID   int    `json:"pid"`
	Since string `json:"since"`
}

// AcquireLock takes the commit lock, failing with ErrLocked if it is held.
func AcquireLock(fsys fs.FS, path string) (*Lock, error) {
	l := &Lock{
		path:  path,
		fsys:  fsys,
		Token: uuid.NewString(),
		PID:   os.Getpid(),
		Since: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	if err := fsys.CreateExclusive(path, data, 0o644); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w (lock file %q)", ErrLocked, path)
		}
		return nil, fmt.Errorf("acquire lock %q: %w", path, err)
	}
	return l, nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := l.fsys.Remove(l.path); err != nil && !l.fsys.IsNotExist(err) {
		return fmt.Errorf("release lock %q: %w", l.path, err)
	}
	return nil
}
