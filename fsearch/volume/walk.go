package volume

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/filesearch/fsearch/common"
	"github.com/ZanzyTHEbar/filesearch/fsearch/config"
	"github.com/ZanzyTHEbar/filesearch/fsearch/filemap"
	"github.com/ZanzyTHEbar/filesearch/fsearch/filesystem"
	"github.com/ZanzyTHEbar/filesearch/fsearch/filesystem/watcher"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
)

// WalkIndexer indexes a directory tree by walking it and keeps up with
// changes through a filesystem watcher.
type WalkIndexer struct {
	id        string
	root      string
	maxDepth  int
	store     *filemap.PathMap
	traverser *filesystem.Traverser
	watcher   *watcher.Watcher
	state     *StateFile
	logger    zerolog.Logger
}

var _ Indexer = (*WalkIndexer)(nil)

// WalkOptions configure a WalkIndexer.
type WalkOptions struct {
	Traverser filesystem.Options
	Watch     bool
	Aliases   filemap.AliasResolver
	State     *StateFile
}

// NewWalkIndexer creates an indexer for the tree at root. With Watch set, a
// watcher starts queueing changes right away so Update can replay them.
func NewWalkIndexer(ctx context.Context, id, root string, opts WalkOptions, logger zerolog.Logger) (*WalkIndexer, error) {
	logger = logger.With().Str("volume", id).Logger()

	var mapOpts []filemap.PathMapOption
	if opts.Aliases != nil {
		mapOpts = append(mapOpts, filemap.WithAliasResolver(opts.Aliases))
	}

	w := &WalkIndexer{
		id:        id,
		root:      root,
		maxDepth:  opts.Traverser.MaxDepth,
		store:     filemap.NewPathMap(mapOpts...),
		traverser: filesystem.NewTraverser(opts.Traverser, logger),
		state:     opts.State,
		logger:    logger,
	}

	if opts.Watch {
		wt, err := watcher.New(watcher.Config{Skip: w.skip}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Watcher unavailable, changes are picked up on rebuild only")
		} else if err := wt.Start(ctx, root); err != nil {
			logger.Warn().Err(err).Msg("Failed to start watcher")
			wt.Close()
		} else {
			w.watcher = wt
		}
	}
	return w, nil
}

func (w *WalkIndexer) skip(path string, isDir bool) bool {
	if w.maxDepth > 0 && filesystem.DepthBelow(w.root, path) > w.maxDepth {
		return true
	}
	return w.traverser.Ignored(w.root, path, isDir)
}

func (w *WalkIndexer) Strategy() string {
	return config.StrategyWalk
}

func (w *WalkIndexer) Store() filemap.Store {
	return w.store
}

// Build walks the whole tree. Queued watcher events are dropped since the walk supersedes them.
func (w *WalkIndexer) Build(ctx context.Context) error {
	if w.watcher != nil {
		w.watcher.Drain()
	}
	w.traverser.ResetIgnores()

	_, err := w.traverser.Walk(ctx, w.root, func(e filesystem.Entry) error {
		w.store.Insert(e.Path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", w.root, err)
	}
	return nil
}

// Update replays queued watcher events. Removals drop whole subtrees and
// created directories are walked.
func (w *WalkIndexer) Update(ctx context.Context) ([]uint64, error) {
	if w.watcher == nil {
		return nil, nil
	}

	events, overflow := w.watcher.Drain()
	if overflow {
		return nil, fmt.Errorf("%w: watcher dropped events", common.ErrJournalInvalidated)
	}

	var touched []uint64
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return touched, err
		}

		switch ev.Type {
		case watcher.EventRemove, watcher.EventRename:
			for _, p := range w.store.RemoveTree(ev.Path) {
				touched = append(touched, xxhash.Sum64String(p))
			}

		case watcher.EventCreate:
			w.store.Insert(ev.Path)
			touched = append(touched, xxhash.Sum64String(ev.Path))
			if !ev.IsDir {
				continue
			}
			_, err := w.traverser.WalkFrom(ctx, w.root, ev.Path, func(e filesystem.Entry) error {
				w.store.Insert(e.Path)
				touched = append(touched, xxhash.Sum64String(e.Path))
				return nil
			})
			if err != nil {
				w.logger.Debug().Err(err).Str("path", ev.Path).Msg("Failed to walk new directory")
			}
		}
	}

	if len(events) > 0 {
		w.logger.Debug().Int("events", len(events)).Int("touched", len(touched)).Msg("Applied watcher events")
	}
	return touched, nil
}

func (w *WalkIndexer) Persist(path string) error {
	if err := w.store.Save(path); err != nil {
		return err
	}
	if w.state == nil {
		return nil
	}
	return w.state.Update(w.id, func(s *VolumeState) {
		s.Strategy = config.StrategyWalk
		s.Records = w.store.Len()
		s.IndexedAt = time.Now()
	})
}

func (w *WalkIndexer) Close() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
