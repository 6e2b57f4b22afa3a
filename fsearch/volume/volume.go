// Package volume owns the per-volume index: building it, persisting it,
// bringing it back on demand and searching it.
package volume

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/filesearch/fsearch/common"
	"github.com/ZanzyTHEbar/filesearch/fsearch/filemap"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/rs/zerolog"
)

// Stats describes a volume for status reporting.
type Stats struct {
	ID        string
	Strategy  string
	IndexPath string
	Loaded    bool
	OnDisk    bool
	IndexSize int64
	Records   int
	Dirty     uint64
	Metrics   common.MetricsSnapshot
}

// Volume is one independently indexed storage unit. The in-memory store only
// lives between a lazy load and the next release; in between, the index
// exists only on disk.
type Volume struct {
	id        string
	indexer   Indexer
	indexPath string
	logger    zerolog.Logger
	metrics   common.VolumeMetrics

	mu        sync.Mutex
	loaded    bool
	lastQuery string
	offset    int
	dirty     *roaring64.Bitmap
	unsaved   bool
}

// New creates a volume whose index file lives in indexDir.
func New(id string, indexer Indexer, indexDir string, logger zerolog.Logger) *Volume {
	return &Volume{
		id:        id,
		indexer:   indexer,
		indexPath: IndexPath(indexDir, id),
		logger:    logger.With().Str("volume", id).Str("strategy", indexer.Strategy()).Logger(),
		dirty:     roaring64.New(),
	}
}

// ID returns the volume identifier.
func (v *Volume) ID() string {
	return v.id
}

// BuildIndex replaces the index with a full scan, persists it and releases
// the in-memory copy.
func (v *Volume) BuildIndex(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.resetLocked()
	if err := v.rebuildLocked(ctx); err != nil {
		return err
	}
	if !v.unsaved {
		v.resetLocked()
	}
	return nil
}

// rebuildLocked builds and persists. The store stays in memory afterwards.
// If persisting fails the store is kept unsaved so a later release retries.
func (v *Volume) rebuildLocked(ctx context.Context) error {
	store := v.indexer.Store()
	store.Clear()
	v.loaded = false

	start := time.Now()
	if err := v.indexer.Build(ctx); err != nil {
		store.Clear()
		v.metrics.RecordBuild(start, 0, err)
		return common.NewIndexError("build", v.id, "", err)
	}
	v.loaded = true
	v.dirty.Clear()
	v.unsaved = false
	v.metrics.RecordBuild(start, store.Len(), nil)
	v.logger.Info().Int("records", store.Len()).Dur("took", time.Since(start)).Msg("Index built")

	if err := v.indexer.Persist(v.indexPath); err != nil {
		v.unsaved = true
		v.logger.Error().Err(err).Str("path", v.indexPath).Msg("Failed to persist index")
	}
	return nil
}

// ensureLoadedLocked brings the store back from disk, rebuilding it when the
// file is missing or unreadable.
func (v *Volume) ensureLoadedLocked(ctx context.Context) error {
	if v.loaded {
		return nil
	}

	err := v.indexer.Store().Load(v.indexPath)
	if err == nil {
		v.loaded = true
		v.logger.Debug().Int("records", v.indexer.Store().Len()).Msg("Index loaded")
		return nil
	}

	if common.IsRebuildable(err) {
		v.logger.Info().Err(err).Msg("Index unusable, rebuilding")
	} else {
		v.logger.Warn().Err(err).Msg("Failed to load index, rebuilding")
	}
	return v.rebuildLocked(ctx)
}

// UpdateIndex loads the index if needed and applies changes since the last
// update. An invalidated journal triggers a rebuild.
func (v *Volume) UpdateIndex(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ensureLoadedLocked(ctx); err != nil {
		return err
	}

	touched, err := v.indexer.Update(ctx)
	if len(touched) > 0 {
		v.dirty.AddMany(touched)
	}
	if errors.Is(err, common.ErrJournalInvalidated) || errors.Is(err, common.ErrJournalUnavailable) {
		v.logger.Info().Err(err).Msg("Changes cannot be replayed, rebuilding")
		err = v.rebuildLocked(ctx)
	} else if err != nil {
		err = common.NewIndexError("update", v.id, "", err)
	}

	v.metrics.RecordUpdate(v.indexer.Store().Len(), err)
	return err
}

// Find searches the next batch of matches for query. A query equal to the
// previous one continues where that search stopped. A cancelled ctx returns
// its error and leaves the position untouched.
func (v *Volume) Find(ctx context.Context, query string, batch int) ([]filemap.Item, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := v.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}

	if query != v.lastQuery {
		v.lastQuery = query
		v.offset = 0
	}

	items, examined, err := v.indexer.Store().Search(ctx, query, v.offset, batch)
	if err != nil {
		v.metrics.RecordFind(0, true)
		return nil, err
	}
	v.offset += examined
	v.metrics.RecordFind(examined, false)
	return items, nil
}

// ResetQuery forgets the search position so the next Find starts over,
// even for the query searched last.
func (v *Volume) ResetQuery() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastQuery = ""
	v.offset = 0
}

// ReleaseIndex drops the in-memory store, saving it first when updates
// changed it. Releasing an unloaded volume only resets the search position.
func (v *Volume) ReleaseIndex() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.releaseLocked()
}

func (v *Volume) releaseLocked() error {
	if v.loaded && (v.unsaved || !v.dirty.IsEmpty()) {
		if err := v.indexer.Persist(v.indexPath); err != nil {
			v.logger.Error().Err(err).Str("path", v.indexPath).Msg("Failed to persist index, keeping it in memory")
			return common.NewIndexError("persist", v.id, v.indexPath, err)
		}
		v.logger.Debug().Uint64("changed", v.dirty.GetCardinality()).Msg("Persisted updated index")
	}
	v.resetLocked()
	return nil
}

func (v *Volume) resetLocked() {
	v.indexer.Store().Clear()
	v.loaded = false
	v.dirty.Clear()
	v.unsaved = false
	v.lastQuery = ""
	v.offset = 0
}

// Close releases the index and stops the indexer.
func (v *Volume) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return errors.Join(v.releaseLocked(), v.indexer.Close())
}

// Stats reports the current state without loading anything.
func (v *Volume) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()

	m := v.metrics.Snapshot()
	s := Stats{
		ID:        v.id,
		Strategy:  v.indexer.Strategy(),
		IndexPath: v.indexPath,
		Loaded:    v.loaded,
		Records:   m.Records,
		Dirty:     v.dirty.GetCardinality(),
		Metrics:   m,
	}
	if v.loaded {
		s.Records = v.indexer.Store().Len()
	}
	if info, err := os.Stat(v.indexPath); err == nil {
		s.OnDisk = true
		s.IndexSize = info.Size()
	}
	return s
}
