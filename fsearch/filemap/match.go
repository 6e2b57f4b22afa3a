package filemap

import "strings"

// Match reports whether name matches query case-insensitively. The query is
// split on the wildcard and every segment must occur in name in order.
func Match(name, query string) bool {
	return matchFolded(Fold(name), Fold(query))
}

func matchFolded(name, query string) bool {
	rest := name
	for {
		seg, after, found := strings.Cut(query, string(Wildcard))
		if seg != "" {
			i := strings.Index(rest, seg)
			if i < 0 {
				return false
			}
			rest = rest[i+len(seg):]
		}
		if !found {
			return true
		}
		query = after
	}
}

// query is a prepared search string
type query struct {
	folded string
	filter uint32
}

func prepare(q string) query {
	folded := Fold(q)
	return query{folded: folded, filter: filterFolded(folded)}
}

func (q query) matches(name string, filter uint32) bool {
	if !MayMatch(q.filter, filter) {
		return false
	}
	return matchFolded(Fold(name), q.folded)
}
