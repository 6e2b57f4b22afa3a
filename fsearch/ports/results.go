package ports

import (
	"github.com/ZanzyTHEbar/filesearch/fsearch/filemap"

	"github.com/google/uuid"
)

// Delivery is one batch of search results handed to the presentation layer.
type Delivery struct {
	// SearchID identifies the fan-out that produced the results.
	SearchID uuid.UUID
	Query    string
	// Items is the whole visible window in descending rank order.
	Items []filemap.Item
	// Pagination is set when Items extends the previous delivery for the
	// same query, so the UI can keep its scroll position.
	Pagination bool
	// NewItems lists, in window order, the items of Items that no earlier
	// delivery for this search showed. A later fetch can rank items above
	// ones already shown, so they need not form the tail of Items.
	NewItems []filemap.Item
}

// ResultSink receives search results. Deliver is called from the
// coordinator goroutine and should return quickly.
type ResultSink interface {
	Deliver(d Delivery)
}

// ResultSinkFunc adapts a function to ResultSink.
type ResultSinkFunc func(d Delivery)

func (f ResultSinkFunc) Deliver(d Delivery) {
	f(d)
}

// IconProvider looks up a small icon for a path. A nil result means none.
type IconProvider interface {
	Icon(path string) []byte
}
