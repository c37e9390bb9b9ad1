package scan

import (
	"bufio"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/trackvault/trackvault/internal/config"
	"github.com/trackvault/trackvault/internal/fs"
)

// Ignore filters paths out of working-tree scans. It always excludes the
// engine's own state directory plus any patterns from .trackvault-ignore
// (one glob per line, # comments, ** supported).
type Ignore struct {
	static   map[string]bool
	patterns []string
}

// NewIgnore loads defaults and the project's ignore file, if present.
func NewIgnore(fsys fs.FS, ignorePath string) *Ignore {
	m := &Ignore{static: make(map[string]bool)}

	for _, s := range config.DefaultIgnored {
		m.static[s] = true
	}

	data, err := fsys.ReadFile(ignorePath)
	if err != nil {
		return m
	}
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, gerr := doublestar.Match(line, "probe"); gerr != nil {
			continue // skip malformed patterns
		}
		m.patterns = append(m.patterns, line)
	}
	return m
}

// Match reports whether the relative slash path should be ignored.
func (m *Ignore) Match(rel string) bool {
	rel = filepath.ToSlash(rel)

	if m.static[rel] {
		return true
	}
	// any leading path segment that is statically ignored covers the subtree
	for seg := rel; seg != "." && seg != "/"; seg = filepath.ToSlash(filepath.Dir(seg)) {
		if m.static[seg] {
			return true
		}
	}

	for _, pat := range m.patterns {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}
