package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreRules decide which entries a walk skips. Exclude patterns are
// doublestar globs tried against the slash separated path relative to the
// root and against the absolute path.
type IgnoreRules struct {
	Exclude    []string
	IgnoreFile string
	SkipHidden bool
}

// Validate checks every exclude pattern.
func (r IgnoreRules) Validate() error {
	for _, p := range r.Exclude {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	return nil
}

// ignoreSet is IgnoreRules bound to one root, with the root's ignore file compiled.
type ignoreSet struct {
	root  string
	rules IgnoreRules
	file  *ignore.GitIgnore
}

func newIgnoreSet(root string, rules IgnoreRules) (*ignoreSet, error) {
	s := &ignoreSet{root: root, rules: rules}
	if rules.IgnoreFile == "" {
		return s, nil
	}

	ignorePath := filepath.Join(root, rules.IgnoreFile)
	if _, err := os.Stat(ignorePath); err == nil {
		compiled, err := ignore.CompileIgnoreFile(ignorePath)
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", ignorePath, err)
		}
		s.file = compiled
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("error checking for %s: %w", ignorePath, err)
	}
	return s, nil
}

// matches reports whether path, which lies below the root, is ignored.
func (s *ignoreSet) matches(path string, isDir bool) bool {
	name := filepath.Base(path)
	if s.rules.SkipHidden && strings.HasPrefix(name, ".") {
		return true
	}

	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	if s.file != nil {
		candidate := rel
		if isDir {
			candidate += "/"
		}
		if s.file.MatchesPath(candidate) {
			return true
		}
	}

	abs := filepath.ToSlash(path)
	for _, p := range s.rules.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, abs); ok {
			return true
		}
	}
	return false
}

// ignoreCache keeps one compiled ignoreSet per root.
type ignoreCache struct {
	mu    sync.Mutex
	rules IgnoreRules
	sets  map[string]*ignoreSet
}

func (c *ignoreCache) get(root string) (*ignoreSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sets[root]; ok {
		return s, nil
	}
	s, err := newIgnoreSet(root, c.rules)
	if err != nil {
		return nil, err
	}
	if c.sets == nil {
		c.sets = make(map[string]*ignoreSet)
	}
	c.sets[root] = s
	return s, nil
}

func (c *ignoreCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets = nil
}
