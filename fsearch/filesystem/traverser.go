package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// Entry is one file or directory found by a walk.
type Entry struct {
	Path  string
	Name  string
	IsDir bool
}

// TraversalStats summarizes one walk
type TraversalStats struct {
	DirsProcessed  int64
	FilesProcessed int64
	Skipped        int64
	ErrorsFound    int64
	Duration       time.Duration
}

// Options configure a Traverser.
type Options struct {
	// Workers bounds concurrent directory reads. Zero picks a value from the CPU count.
	Workers int
	// MaxDepth limits how deep entries are reported below the root. Zero means unlimited.
	MaxDepth int
	Rules    IgnoreRules
}

// Traverser walks directory trees level by level, reading the directories of
// one level concurrently. Entries are handed to the callback one at a time.
type Traverser struct {
	opts    Options
	ignores ignoreCache
	logger  zerolog.Logger
}

// NewTraverser creates a traverser.
func NewTraverser(opts Options, logger zerolog.Logger) *Traverser {
	if opts.Workers <= 0 {
		// I/O bound, so oversubscribe the CPUs a little
		opts.Workers = min(max(runtime.NumCPU()*2, 4), 32)
	}
	return &Traverser{
		opts:    opts,
		ignores: ignoreCache{rules: opts.Rules},
		logger:  logger.With().Str("component", "traverser").Logger(),
	}
}

// Walk reports every entry below root that the ignore rules keep. Unreadable
// directories are skipped. The walk stops at the first error returned by fn
// or when ctx is done.
func (t *Traverser) Walk(ctx context.Context, root string, fn func(Entry) error) (TraversalStats, error) {
	return t.WalkFrom(ctx, root, root, fn)
}

// WalkFrom is Walk restricted to the subtree at start, with the ignore rules
// still evaluated relative to root.
func (t *Traverser) WalkFrom(ctx context.Context, root, start string, fn func(Entry) error) (TraversalStats, error) {
	var stats TraversalStats
	began := time.Now()

	info, err := os.Stat(start)
	if err != nil {
		return stats, err
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("%s is not a directory", start)
	}

	ignores, err := t.ignores.get(root)
	if err != nil {
		t.logger.Warn().Err(err).Str("root", root).Msg("Failed to load ignore file")
		ignores, _ = newIgnoreSet(root, IgnoreRules{Exclude: t.opts.Rules.Exclude, SkipHidden: t.opts.Rules.SkipHidden})
	}

	startDepth := DepthBelow(root, start)
	var emitMu sync.Mutex

	currentLevel := []string{start}
	for depth := startDepth; len(currentLevel) > 0; depth++ {
		if t.opts.MaxDepth > 0 && depth >= t.opts.MaxDepth {
			break
		}

		var nextLevel []string
		var nextLevelMu sync.Mutex

		levelPool := pool.New().WithMaxGoroutines(t.opts.Workers).WithContext(ctx).WithCancelOnError()
		for _, dir := range currentLevel {
			levelPool.Go(func(ctx context.Context) error {
				if err := ctx.Err(); err != nil {
					return err
				}

				entries, err := os.ReadDir(dir)
				if err != nil {
					atomic.AddInt64(&stats.ErrorsFound, 1)
					if errors.Is(err, fs.ErrPermission) {
						t.logger.Debug().Str("path", dir).Msg("Skipping unreadable directory")
					} else {
						t.logger.Warn().Err(err).Str("path", dir).Msg("Error reading directory")
					}
					return nil
				}
				atomic.AddInt64(&stats.DirsProcessed, 1)

				var subdirs []string
				emitMu.Lock()
				defer emitMu.Unlock()
				for _, entry := range entries {
					childPath := filepath.Join(dir, entry.Name())
					isDir := entry.IsDir()
					if ignores.matches(childPath, isDir) {
						atomic.AddInt64(&stats.Skipped, 1)
						continue
					}
					if err := fn(Entry{Path: childPath, Name: entry.Name(), IsDir: isDir}); err != nil {
						return err
					}
					if isDir {
						subdirs = append(subdirs, childPath)
					} else {
						atomic.AddInt64(&stats.FilesProcessed, 1)
					}
				}

				nextLevelMu.Lock()
				nextLevel = append(nextLevel, subdirs...)
				nextLevelMu.Unlock()
				return nil
			})
		}

		if err := levelPool.Wait(); err != nil {
			stats.Duration = time.Since(began)
			return stats, err
		}
		currentLevel = nextLevel
	}

	stats.Duration = time.Since(began)
	t.logPerformanceStats(start, stats)
	return stats, nil
}

// Ignored reports whether path below root would be skipped by a walk.
func (t *Traverser) Ignored(root, path string, isDir bool) bool {
	ignores, err := t.ignores.get(root)
	if err != nil {
		return false
	}
	return ignores.matches(path, isDir)
}

// ResetIgnores drops compiled ignore files so edits are picked up by the next walk.
func (t *Traverser) ResetIgnores() {
	t.ignores.reset()
}

// DepthBelow returns how many path elements path lies below root.
func DepthBelow(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	depth := 1
	for _, c := range rel {
		if c == filepath.Separator {
			depth++
		}
	}
	return depth
}

func (t *Traverser) logPerformanceStats(root string, stats TraversalStats) {
	ev := t.logger.Debug()
	if stats.Duration > 5*time.Second {
		ev = t.logger.Info()
	}
	ev.Str("root", root).
		Int64("dirs", stats.DirsProcessed).
		Int64("files", stats.FilesProcessed).
		Int64("skipped", stats.Skipped).
		Int64("errors", stats.ErrorsFound).
		Dur("duration", stats.Duration).
		Msg("Traversal completed")
}
