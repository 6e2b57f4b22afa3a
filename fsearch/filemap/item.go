package filemap

import "context"

// Item is one search hit.
type Item struct {
	Name  string
	Dir   string
	Path  string
	Rank  int8
	Alias string // set when the hit came from an alternate name
	Icon  []byte
}

// Store is the part of a file map that a volume needs regardless of variant.
type Store interface {
	Search(ctx context.Context, query string, offset, batch int) ([]Item, int, error)
	Len() int
	Clear()
	Save(path string) error
	Load(path string) error
}
