package filemap

import (
	"context"
	"os"
	"strings"

	"github.com/armon/go-radix"
)

// PathRecord is a file keyed by its full path.
type PathRecord struct {
	Dir     string
	Name    string
	Rank    int8
	Filter  uint32
	Aliases []string
}

// Path returns the full path of the record.
func (r PathRecord) Path() string {
	return JoinPath(r.Dir, r.Name)
}

// JoinPath joins dir and name without cleaning, so keys round-trip exactly.
func JoinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	if strings.HasSuffix(dir, string(os.PathSeparator)) {
		return dir + name
	}
	return dir + string(os.PathSeparator) + name
}

// SplitPath is the inverse of JoinPath.
func SplitPath(path string) (dir, name string) {
	i := strings.LastIndexByte(path, os.PathSeparator)
	if i < 0 || i == len(path)-1 {
		return "", path
	}
	dir, name = path[:i], path[i+1:]
	if dir == "" {
		dir = string(os.PathSeparator)
	}
	return dir, name
}

// AliasResolver returns alternate display names for a path, such as the
// localized name of an application bundle.
type AliasResolver interface {
	Aliases(path string) []string
}

// PathMapOption configures a PathMap.
type PathMapOption func(*PathMap)

// WithAliasResolver attaches alternate names to inserted records.
func WithAliasResolver(r AliasResolver) PathMapOption {
	return func(m *PathMap) {
		m.aliases = r
	}
}

// PathMap indexes files by full path. A radix tree over the same keys lets
// whole directory subtrees be dropped at once.
type PathMap struct {
	idx     *rankIndex[string, *PathRecord]
	paths   *radix.Tree
	aliases AliasResolver
}

var _ Store = (*PathMap)(nil)

// NewPathMap returns an empty map.
func NewPathMap(opts ...PathMapOption) *PathMap {
	m := &PathMap{
		idx:   newRankIndex[string, *PathRecord](),
		paths: radix.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Insert adds or replaces the file at path.
func (m *PathMap) Insert(path string) {
	dir, name := SplitPath(path)

	rec := PathRecord{
		Dir:    dir,
		Name:   name,
		Rank:   ComputeRank(name),
		Filter: ComputeFilter(name),
	}
	if m.aliases != nil {
		rec.Aliases = usefulAliases(name, m.aliases.Aliases(path))
		for _, a := range rec.Aliases {
			rec.Filter |= ComputeFilter(a)
		}
	}
	m.InsertRecord(rec)
}

// usefulAliases drops aliases already found inside name.
func usefulAliases(name string, aliases []string) []string {
	if len(aliases) == 0 {
		return nil
	}
	folded := Fold(name)
	var out []string
	for _, a := range aliases {
		if a == "" || strings.Contains(folded, Fold(a)) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// InsertRecord stores r as given.
func (m *PathMap) InsertRecord(r PathRecord) {
	key := r.Path()
	m.idx.put(key, r.Rank, &r)
	m.paths.Insert(key, nil)
}

// Remove deletes the file at path. Unknown paths are ignored.
func (m *PathMap) Remove(path string) bool {
	m.paths.Delete(path)
	_, ok := m.idx.remove(path)
	return ok
}

// RemoveTree deletes path and everything below it and returns the removed paths.
func (m *PathMap) RemoveTree(path string) []string {
	prefix := path
	if !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix += string(os.PathSeparator)
	}

	var removed []string
	if m.Remove(path) {
		removed = append(removed, path)
	}

	var below []string
	m.paths.WalkPrefix(prefix, func(key string, _ interface{}) bool {
		below = append(below, key)
		return false
	})
	for _, key := range below {
		if m.Remove(key) {
			removed = append(removed, key)
		}
	}
	return removed
}

// Get returns the record stored under path.
func (m *PathMap) Get(path string) (PathRecord, bool) {
	r, ok := m.idx.get(path)
	if !ok {
		return PathRecord{}, false
	}
	return *r, true
}

// Len returns the number of records.
func (m *PathMap) Len() int {
	return m.idx.len()
}

// Clear drops all records.
func (m *PathMap) Clear() {
	m.idx.clear()
	m.paths = radix.New()
}

// Records returns every record in descending rank order.
func (m *PathMap) Records() []PathRecord {
	out := make([]PathRecord, 0, m.idx.len())
	m.idx.descend(func(r *PathRecord) bool {
		out = append(out, *r)
		return true
	})
	return out
}

// Search returns up to batch matches for q in descending rank order, starting
// after offset entries, and the number of entries examined. Aliases are tried
// when the name itself does not match.
func (m *PathMap) Search(ctx context.Context, q string, offset, batch int) ([]Item, int, error) {
	pq := prepare(q)
	return m.idx.scan(ctx, offset, batch, func(r *PathRecord) (Item, bool) {
		if !MayMatch(pq.filter, r.Filter) {
			return Item{}, false
		}
		item := Item{Name: r.Name, Dir: r.Dir, Path: r.Path(), Rank: r.Rank}
		if matchFolded(Fold(r.Name), pq.folded) {
			return item, true
		}
		for _, a := range r.Aliases {
			if matchFolded(Fold(a), pq.folded) {
				item.Alias = a
				return item, true
			}
		}
		return Item{}, false
	})
}
