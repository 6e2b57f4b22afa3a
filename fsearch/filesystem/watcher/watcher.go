// Package watcher turns fsnotify notifications into a queue of name changes
// that an index can drain at its own pace.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// EventType represents the type of file system event
type EventType int

const (
	// EventCreate represents file/directory creation
	EventCreate EventType = iota
	// EventRemove represents file/directory removal
	EventRemove
	// EventRename represents the old name of a renamed file/directory
	EventRename
)

func (t EventType) String() string {
	switch t {
	case EventCreate:
		return "create"
	case EventRemove:
		return "remove"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Event represents a file system event
type Event struct {
	Type      EventType
	Path      string
	Timestamp time.Time
	IsDir     bool
}

// Config holds configuration for the watcher
type Config struct {
	// MaxPending caps queued events. Past it the queue is dropped and
	// Drain reports an overflow so the caller can rebuild instead.
	MaxPending int

	// Skip excludes paths from watching and from the queue.
	Skip func(path string, isDir bool) bool
}

// Watcher queues create, remove and rename events below its roots.
type Watcher struct {
	fsw    *fsnotify.Watcher
	config Config
	logger zerolog.Logger

	mu       sync.Mutex
	pending  []Event
	overflow bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher. Nothing is watched until Start.
func New(config Config, logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if config.MaxPending <= 0 {
		config.MaxPending = 100_000
	}
	return &Watcher{
		fsw:    fsw,
		config: config,
		logger: logger.With().Str("component", "watcher").Logger(),
	}, nil
}

// Start adds every root recursively and begins queueing events.
func (w *Watcher) Start(ctx context.Context, roots ...string) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	for _, root := range roots {
		if err := w.Add(root); err != nil {
			w.logger.Warn().Err(err).Str("path", root).Msg("Failed to add path to watcher")
		}
	}

	w.wg.Add(1)
	go w.watchLoop(ctx)

	w.logger.Debug().Int("paths", len(roots)).Msg("Watcher started")
	return nil
}

// Add watches path and every directory below it.
func (w *Watcher) Add(path string) error {
	if err := w.fsw.Add(path); err != nil {
		return fmt.Errorf("failed to add root path %s: %w", path, err)
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == path {
				return err
			}
			// unreadable subtree
			return fs.SkipDir
		}
		if !d.IsDir() || p == path {
			return nil
		}
		if w.config.Skip != nil && w.config.Skip(p, true) {
			return fs.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			w.logger.Debug().Err(err).Str("path", p).Msg("Failed to add subdirectory to watcher")
		}
		return nil
	})
}

// Drain returns and clears the queued events. overflow is true when events
// were lost and the queue no longer describes every change.
func (w *Watcher) Drain() (events []Event, overflow bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	events, overflow = w.pending, w.overflow
	w.pending, w.overflow = nil, false
	return events, overflow
}

// Pending returns the number of queued events.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Close stops watching.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev := w.convertEvent(event); ev != nil {
				w.enqueue(*ev)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.markOverflow()
			}
			w.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

// convertEvent maps fsnotify events onto name changes. Writes and chmods do
// not change names and are dropped.
func (w *Watcher) convertEvent(event fsnotify.Event) *Event {
	ev := &Event{Path: event.Name, Timestamp: time.Now()}

	switch {
	case event.Has(fsnotify.Create):
		ev.Type = EventCreate
		info, err := os.Lstat(event.Name)
		if err != nil {
			// gone again before we looked
			return nil
		}
		ev.IsDir = info.IsDir()
	case event.Has(fsnotify.Remove):
		ev.Type = EventRemove
	case event.Has(fsnotify.Rename):
		ev.Type = EventRename
	default:
		return nil
	}

	if w.config.Skip != nil && w.config.Skip(ev.Path, ev.IsDir) {
		return nil
	}

	if ev.Type == EventCreate && ev.IsDir {
		if err := w.Add(ev.Path); err != nil {
			w.logger.Debug().Err(err).Str("path", ev.Path).Msg("Failed to watch new directory")
		}
	}
	return ev
}

func (w *Watcher) enqueue(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.overflow {
		return
	}
	if len(w.pending) >= w.config.MaxPending {
		w.pending = nil
		w.overflow = true
		w.logger.Warn().Int("max", w.config.MaxPending).Msg("Event queue full, index needs a rebuild")
		return
	}
	w.pending = append(w.pending, ev)
}

func (w *Watcher) markOverflow() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = nil
	w.overflow = true
}
