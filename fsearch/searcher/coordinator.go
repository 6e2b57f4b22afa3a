// Package searcher runs the search coordinator: a single goroutine that owns
// the volume set, drives the index lifecycle and fans queries out to every
// volume.
package searcher

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZanzyTHEbar/filesearch/fsearch/common"
	"github.com/ZanzyTHEbar/filesearch/fsearch/filemap"
	"github.com/ZanzyTHEbar/filesearch/fsearch/ports"
	"github.com/ZanzyTHEbar/filesearch/fsearch/volume"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/errgroup"
)

// ErrSuperseded is returned for a search that a newer request preempted.
var ErrSuperseded = errors.New("search superseded by a newer request")

// State is the lifecycle state of the volume set.
type State int32

const (
	StateUnbuilt State = iota
	StateReleased
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUnbuilt:
		return "unbuilt"
	case StateReleased:
		return "released"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Kind is the type of a coordinator message.
type Kind int

const (
	// KindInit rebuilds every volume from scratch.
	KindInit Kind = iota
	// KindLoad adopts persisted indexes and builds only the missing ones.
	KindLoad
	KindUpdate
	KindFind
	KindRelease
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindLoad:
		return "load"
	case KindUpdate:
		return "update"
	case KindFind:
		return "find"
	case KindRelease:
		return "release"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

type message struct {
	kind  Kind
	query string
	done  chan error
}

func (m message) reply(err error) {
	if m.done != nil {
		m.done <- err
	}
}

// Volume is what the coordinator needs from an indexed volume.
type Volume interface {
	ID() string
	BuildIndex(ctx context.Context) error
	UpdateIndex(ctx context.Context) error
	Find(ctx context.Context, query string, batch int) ([]filemap.Item, error)
	ResetQuery()
	ReleaseIndex() error
	Close() error
	Stats() volume.Stats
}

// Provider discovers the volumes present right now and opens them.
type Provider interface {
	Discover(ctx context.Context) ([]string, error)
	Open(ctx context.Context, id string) (Volume, error)
}

// Options tune a Coordinator.
type Options struct {
	// BatchSize is how many results each volume contributes per fan-out and
	// how much a repeated query extends the visible window.
	BatchSize int
	// MaxParallelBuilds bounds concurrent builds. Zero builds all volumes at once.
	MaxParallelBuilds int
	Icons             ports.IconProvider
}

// Coordinator serializes lifecycle messages and searches. All mutable state
// except the published volume snapshot belongs to the Run goroutine.
type Coordinator struct {
	provider Provider
	sink     ports.ResultSink
	opts     Options
	logger   zerolog.Logger

	inbox    chan message
	deferred []message
	stopped  chan struct{}
	running  atomic.Bool
	state    atomic.Int32

	vols   []Volume
	snapMu sync.Mutex
	snap   []Volume

	// result accumulator for the current query
	query    string
	valid    bool
	items    []filemap.Item
	shown    int
	seen     map[string]struct{}
	searchID uuid.UUID
}

// New creates a coordinator. Call Run to start processing messages.
func New(provider Provider, sink ports.ResultSink, opts Options, logger zerolog.Logger) *Coordinator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	return &Coordinator{
		provider: provider,
		sink:     sink,
		opts:     opts,
		logger:   logger.With().Str("component", "coordinator").Logger(),
		inbox:    make(chan message, 64),
		stopped:  make(chan struct{}),
	}
}

// Run processes messages until ctx is done, then closes every volume.
// Deferred messages are always handled before new ones.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("coordinator already running")
	}
	defer close(c.stopped)
	defer c.closeVolumes()

	c.logger.Debug().Msg("Coordinator started")
	for {
		var m message
		if len(c.deferred) > 0 {
			m, c.deferred = c.deferred[0], c.deferred[1:]
		} else {
			select {
			case <-ctx.Done():
				c.logger.Debug().Msg("Coordinator stopping")
				return nil
			case m = <-c.inbox:
			}
		}
		if ctx.Err() != nil {
			m.reply(ctx.Err())
			continue
		}
		c.handle(ctx, m)
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) setState(s State) {
	if old := State(c.state.Swap(int32(s))); old != s {
		c.logger.Info().Stringer("from", old).Stringer("to", s).Msg("State changed")
	}
}

// Volumes returns the volumes tracked after the last message.
func (c *Coordinator) Volumes() []Volume {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	return slices.Clone(c.snap)
}

func (c *Coordinator) publish() {
	c.snapMu.Lock()
	c.snap = slices.Clone(c.vols)
	c.snapMu.Unlock()
}

// Init discovers volumes and rebuilds all of them, then releases them.
func (c *Coordinator) Init(ctx context.Context) error {
	return c.call(ctx, message{kind: KindInit})
}

// Load discovers volumes and builds only those without a persisted index.
func (c *Coordinator) Load(ctx context.Context) error {
	return c.call(ctx, message{kind: KindLoad})
}

// Update applies pending changes to every volume, loading them as needed.
func (c *Coordinator) Update(ctx context.Context) error {
	return c.call(ctx, message{kind: KindUpdate})
}

// Find searches query and returns once the results were delivered to the
// sink. Repeating the last query extends its window by one batch.
func (c *Coordinator) Find(ctx context.Context, query string) error {
	return c.call(ctx, message{kind: KindFind, query: query})
}

// Release drops every in-memory index, persisting updated ones.
func (c *Coordinator) Release(ctx context.Context) error {
	return c.call(ctx, message{kind: KindRelease})
}

// Send queues a message without waiting for it to be handled.
func (c *Coordinator) Send(ctx context.Context, kind Kind, query string) error {
	return c.enqueue(ctx, message{kind: kind, query: query})
}

func (c *Coordinator) call(ctx context.Context, m message) error {
	m.done = make(chan error, 1)
	if err := c.enqueue(ctx, m); err != nil {
		return err
	}
	select {
	case err := <-m.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return common.ErrNotReady
	}
}

func (c *Coordinator) enqueue(ctx context.Context, m message) error {
	select {
	case c.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return common.ErrNotReady
	}
}

// deferFront queues msgs, in order, ahead of everything already deferred.
func (c *Coordinator) deferFront(msgs ...message) {
	c.deferred = append(msgs, c.deferred...)
}

func (c *Coordinator) handle(ctx context.Context, m message) {
	c.logger.Debug().Stringer("message", m.kind).Stringer("state", c.State()).Msg("Handling message")

	switch m.kind {
	case KindInit:
		m.reply(c.initVolumes(ctx, true))

	case KindLoad:
		m.reply(c.initVolumes(ctx, false))

	case KindUpdate:
		if c.State() == StateUnbuilt {
			c.deferFront(message{kind: KindLoad}, m)
			return
		}
		m.reply(c.updateVolumes(ctx))

	case KindFind:
		switch c.State() {
		case StateUnbuilt:
			c.deferFront(message{kind: KindLoad}, message{kind: KindUpdate}, m)
		case StateReleased:
			c.deferFront(message{kind: KindUpdate}, m)
		default:
			m.reply(c.find(ctx, m.query))
		}

	case KindRelease:
		if c.State() != StateReady {
			m.reply(nil)
			return
		}
		m.reply(c.releaseVolumes(ctx))

	default:
		m.reply(fmt.Errorf("unknown message %v", m.kind))
	}
}

// refresh drops volumes that disappeared and, with adopt set, opens new ones.
func (c *Coordinator) refresh(ctx context.Context, adopt bool) {
	defer c.publish()

	ids, err := c.provider.Discover(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Volume discovery failed, keeping current volumes")
		return
	}

	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}

	tracked := make(map[string]bool, len(c.vols))
	kept := make([]Volume, 0, len(ids))
	for _, v := range c.vols {
		if !present[v.ID()] {
			c.logger.Info().Str("volume", v.ID()).Msg("Volume gone, dropping it")
			if err := v.Close(); err != nil {
				c.logger.Debug().Err(err).Str("volume", v.ID()).Msg("Failed to close dropped volume")
			}
			continue
		}
		tracked[v.ID()] = true
		kept = append(kept, v)
	}

	if adopt {
		for _, id := range ids {
			if tracked[id] {
				continue
			}
			v, err := c.provider.Open(ctx, id)
			if err != nil {
				c.logger.Warn().Err(err).Str("volume", id).Msg("Failed to open volume")
				continue
			}
			kept = append(kept, v)
		}
	}

	slices.SortFunc(kept, func(a, b Volume) int { return cmp.Compare(a.ID(), b.ID()) })
	c.vols = kept
}

func (c *Coordinator) initVolumes(ctx context.Context, rebuild bool) error {
	if rebuild {
		c.closeVolumes()
	} else if c.State() == StateReady {
		if err := c.releaseVolumes(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Release before load failed")
		}
	}
	c.resetResults()
	c.refresh(ctx, true)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	if c.opts.MaxParallelBuilds > 0 {
		g.SetLimit(c.opts.MaxParallelBuilds)
	}

	var mu sync.Mutex
	var errs []error
	built := 0
	for _, v := range c.vols {
		if !rebuild && v.Stats().OnDisk {
			continue
		}
		built++
		g.Go(func() error {
			if err := guard(func() error { return v.BuildIndex(gctx) }); err != nil {
				c.logger.Warn().Err(err).Str("volume", v.ID()).Msg("Build failed")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	c.setState(StateReleased)
	c.logger.Info().Int("volumes", len(c.vols)).Int("built", built).Dur("took", time.Since(start)).Msg("Volumes initialized")
	return errors.Join(errs...)
}

func (c *Coordinator) updateVolumes(ctx context.Context) error {
	c.refresh(ctx, true)
	err := c.eachVolume("update", func(v Volume) error { return v.UpdateIndex(ctx) })
	c.setState(StateReady)
	return err
}

func (c *Coordinator) releaseVolumes(ctx context.Context) error {
	c.refresh(ctx, false)
	c.resetResults()
	err := c.eachVolume("release", Volume.ReleaseIndex)
	c.setState(StateReleased)
	return err
}

func (c *Coordinator) closeVolumes() {
	if len(c.vols) == 0 {
		return
	}
	if err := c.eachVolume("close", Volume.Close); err != nil {
		c.logger.Warn().Err(err).Msg("Closing volumes reported errors")
	}
	c.vols = nil
	c.publish()
	c.state.Store(int32(StateUnbuilt))
}

// eachVolume runs fn on every volume concurrently and waits for all of them.
// Panics are recovered and reported as errors.
func (c *Coordinator) eachVolume(op string, fn func(Volume) error) error {
	var wg conc.WaitGroup
	var mu sync.Mutex
	var errs []error

	for _, v := range c.vols {
		wg.Go(func() {
			if err := fn(v); err != nil {
				c.logger.Warn().Err(err).Str("volume", v.ID()).Str("op", op).Msg("Volume operation failed")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		c.logger.Error().Str("op", op).Interface("panic", r.Value).Msg("Volume worker panicked")
		errs = append(errs, r.AsError())
	}
	return errors.Join(errs...)
}

func (c *Coordinator) resetResults() {
	c.query = ""
	c.valid = false
	c.items = nil
	c.shown = 0
	c.seen = nil
}

// resetPositions makes the next Find on every volume start from the top.
func (c *Coordinator) resetPositions() {
	for _, v := range c.vols {
		if err := guard(func() error { v.ResetQuery(); return nil }); err != nil {
			c.logger.Error().Err(err).Str("volume", v.ID()).Msg("Failed to reset search position")
		}
	}
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
