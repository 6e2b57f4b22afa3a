package filemap

import (
	"context"
	"strings"
)

// RootRef is the file reference number of an NTFS volume root directory.
const RootRef uint64 = 0x5000000000005

// RefSeparator joins names along the parent chain.
const RefSeparator = `\`

// maxDepth bounds parent chain walks so a corrupt cycle cannot hang a search.
const maxDepth = 512

// RefRecord is a file keyed by its filesystem reference number.
type RefRecord struct {
	Ref    uint64
	Parent uint64
	Name   string
	Rank   int8
	Filter uint32
}

// RefMap indexes files by reference number and rebuilds paths by following parents.
type RefMap struct {
	// StartUSN is the journal position the map is current up to.
	StartUSN int64

	idx *rankIndex[uint64, *RefRecord]
}

var _ Store = (*RefMap)(nil)

// NewRefMap returns an empty map.
func NewRefMap() *RefMap {
	return &RefMap{idx: newRankIndex[uint64, *RefRecord]()}
}

// Insert adds or replaces ref, deriving rank and filter from name.
func (m *RefMap) Insert(ref, parent uint64, name string) {
	m.InsertRecord(RefRecord{
		Ref:    ref,
		Parent: parent,
		Name:   name,
		Rank:   ComputeRank(name),
		Filter: ComputeFilter(name),
	})
}

// InsertRecord stores r as given.
func (m *RefMap) InsertRecord(r RefRecord) {
	m.idx.put(r.Ref, r.Rank, &r)
}

// Remove deletes ref. Unknown refs are ignored.
func (m *RefMap) Remove(ref uint64) bool {
	_, ok := m.idx.remove(ref)
	return ok
}

// Get returns the record stored under ref.
func (m *RefMap) Get(ref uint64) (RefRecord, bool) {
	r, ok := m.idx.get(ref)
	if !ok {
		return RefRecord{}, false
	}
	return *r, true
}

// Len returns the number of records.
func (m *RefMap) Len() int {
	return m.idx.len()
}

// Clear drops all records and the journal position.
func (m *RefMap) Clear() {
	m.idx.clear()
	m.StartUSN = 0
}

// Records returns every record in descending rank order.
func (m *RefMap) Records() []RefRecord {
	out := make([]RefRecord, 0, m.idx.len())
	m.idx.descend(func(r *RefRecord) bool {
		out = append(out, *r)
		return true
	})
	return out
}

// Path rebuilds the full path of ref. It fails when an ancestor is missing.
func (m *RefMap) Path(ref uint64) (string, bool) {
	r, ok := m.idx.get(ref)
	if !ok {
		return "", false
	}
	return m.pathOf(r)
}

func (m *RefMap) pathOf(r *RefRecord) (string, bool) {
	if r.Parent == 0 || r.Parent == r.Ref {
		return r.Name, true
	}
	dir, ok := m.dirOf(r)
	if !ok {
		return "", false
	}
	return dir + RefSeparator + r.Name, true
}

// dirOf returns the path of the directory containing r.
func (m *RefMap) dirOf(r *RefRecord) (string, bool) {
	var names []string
	cur := r
	for depth := 0; cur.Parent != 0 && cur.Parent != cur.Ref; depth++ {
		if depth >= maxDepth {
			return "", false
		}
		parent, ok := m.idx.get(cur.Parent)
		if !ok {
			return "", false
		}
		names = append(names, parent.Name)
		cur = parent
	}

	var b strings.Builder
	for i := len(names) - 1; i >= 0; i-- {
		b.WriteString(names[i])
		if i > 0 {
			b.WriteString(RefSeparator)
		}
	}
	return b.String(), true
}

// Search returns up to batch matches for q in descending rank order, starting
// after offset entries, and the number of entries examined. Records whose
// ancestry cannot be resolved are examined but never returned.
func (m *RefMap) Search(ctx context.Context, q string, offset, batch int) ([]Item, int, error) {
	pq := prepare(q)
	return m.idx.scan(ctx, offset, batch, func(r *RefRecord) (Item, bool) {
		if !pq.matches(r.Name, r.Filter) {
			return Item{}, false
		}
		dir, ok := m.dirOf(r)
		if !ok {
			return Item{}, false
		}
		path := r.Name
		if dir != "" {
			path = dir + RefSeparator + r.Name
		}
		return Item{Name: r.Name, Dir: dir, Path: path, Rank: r.Rank}, true
	})
}
