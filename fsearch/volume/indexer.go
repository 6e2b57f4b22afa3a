package volume

import (
	"context"

	"github.com/ZanzyTHEbar/filesearch/fsearch/filemap"
)

// Indexer fills and maintains the store of one volume. Volume serializes
// every call, so implementations need no locking of their own.
type Indexer interface {
	// Strategy names the indexing strategy, see config.StrategyWalk and config.StrategyJournal.
	Strategy() string

	Store() filemap.Store

	// Build populates the cleared store from scratch.
	Build(ctx context.Context) error

	// Update applies changes since the store was built or last updated and
	// returns the keys it touched. common.ErrJournalInvalidated means the
	// changes cannot be replayed and the store must be rebuilt.
	Update(ctx context.Context) ([]uint64, error)

	// Persist saves the store to path and records the volume state.
	Persist(path string) error

	Close() error
}
