// Package scan walks a project's working tree and collects the files a
// snapshot should consider, with cheap stat metadata attached.
package scan

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"

	"github.com/trackvault/trackvault/internal/fs"
)

// File is one scanned working-tree file.
type File struct {
	RelPath string // normalized, slash-separated, relative to the project root
	Size    int64
	MTime   int64 // unix nanoseconds
}

// Scanner lists user files in a project root, excluding ignored paths.
type Scanner struct {
	Root   string
	FS     fs.FS
	Ignore *Ignore
}

func NewScanner(root string, fsys fs.FS, ignore *Ignore) *Scanner {
	return &Scanner{Root: root, FS: fsys, Ignore: ignore}
}

// Scan returns all tracked-candidate files sorted by relative path.
func (s *Scanner) Scan() ([]File, error) {
	var files []File
	if err := s.walk("", &files); err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

func (s *Scanner) walk(rel string, out *[]File) error {
	dir := s.Root
	if rel != "" {
		dir = filepath.Join(s.Root, filepath.FromSlash(rel))
	}

	entries, err := s.FS.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	for _, e := range entries {
		childRel := e.Name()
		if rel != "" {
			childRel = path.Join(rel, e.Name())
		}
		if s.Ignore != nil && s.Ignore.Match(childRel) {
			continue
		}

		if e.IsDir() {
			if err := s.walk(childRel, out); err != nil {
				return err
			}
			continue
		}

		fi, err := e.Info()
		if err != nil {
			return fmt.Errorf("stat %q: %w", childRel, err)
		}
		*out = append(*out, File{
			RelPath: childRel,
			Size:    fi.Size(),
			MTime:   fi.ModTime().UnixNano(),
		})
	}
	return nil
}
