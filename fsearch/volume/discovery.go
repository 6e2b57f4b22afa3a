package volume

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ZanzyTHEbar/filesearch/fsearch/common"
	"github.com/ZanzyTHEbar/filesearch/fsearch/config"
	"github.com/ZanzyTHEbar/filesearch/fsearch/filemap"
	"github.com/ZanzyTHEbar/filesearch/fsearch/filesystem"
	"github.com/ZanzyTHEbar/filesearch/fsearch/journal"

	"github.com/rs/zerolog"
)

// Candidate is a volume that can currently be indexed.
type Candidate struct {
	ID   string
	Root string
	// Strategy is the preferred strategy, empty when the source has none.
	Strategy string
	// MaxDepth limits a walk below Root. Zero means unlimited.
	MaxDepth int
}

// Source lists the volumes that are present right now.
type Source interface {
	Candidates(ctx context.Context) ([]Candidate, error)
}

// StaticSource offers configured directories that exist. Shallow roots are
// indexed one level deep only.
type StaticSource struct {
	Roots        []string
	ShallowRoots []string
}

func (s StaticSource) Candidates(ctx context.Context) ([]Candidate, error) {
	var out []Candidate
	seen := make(map[string]bool)
	add := func(root string, depth int) {
		root = filepath.Clean(root)
		if seen[root] {
			return
		}
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			return
		}
		seen[root] = true
		out = append(out, Candidate{ID: root, Root: root, MaxDepth: depth})
	}
	for _, r := range s.Roots {
		add(r, 0)
	}
	for _, r := range s.ShallowRoots {
		add(r, 1)
	}
	return out, nil
}

// PlatformSource offers the volumes the operating system reports as having a
// change journal and falls back to another source when there are none.
type PlatformSource struct {
	Fallback Source
}

func (p PlatformSource) Candidates(ctx context.Context) ([]Candidate, error) {
	found, err := platformVolumes()
	if err == nil && len(found) > 0 {
		return found, nil
	}
	if p.Fallback == nil {
		return nil, err
	}
	return p.Fallback.Candidates(ctx)
}

// Registry discovers volumes and creates them with the right indexer.
type Registry struct {
	cfg     *config.Config
	source  Source
	opener  journal.Opener
	state   *StateFile
	aliases filemap.AliasResolver
	logger  zerolog.Logger

	mu         sync.Mutex
	candidates map[string]Candidate
}

// NewRegistry wires discovery. opener may be nil when no journal is available.
func NewRegistry(cfg *config.Config, source Source, opener journal.Opener, state *StateFile, logger zerolog.Logger) *Registry {
	return &Registry{
		cfg:        cfg,
		source:     source,
		opener:     opener,
		state:      state,
		aliases:    filemap.BundleAliases{MaxLocales: 64},
		logger:     logger.With().Str("component", "registry").Logger(),
		candidates: make(map[string]Candidate),
	}
}

// Discover returns the ids of all volumes present now, in sorted order.
func (r *Registry) Discover(ctx context.Context) ([]string, error) {
	found, err := r.source.Candidates(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates = make(map[string]Candidate, len(found))
	ids := make([]string, 0, len(found))
	for _, c := range found {
		if _, dup := r.candidates[c.ID]; dup {
			continue
		}
		r.candidates[c.ID] = c
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// Open creates the volume id found by the last Discover. ctx bounds the
// lifetime of any watcher the volume starts.
func (r *Registry) Open(ctx context.Context, id string) (*Volume, error) {
	r.mu.Lock()
	c, ok := r.candidates[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", common.ErrVolumeGone, id)
	}

	strategy, err := r.strategyFor(ctx, c)
	if err != nil {
		return nil, err
	}

	var indexer Indexer
	switch strategy {
	case config.StrategyJournal:
		indexer = NewJournalIndexer(c.ID, r.opener, r.state, r.logger)
	default:
		indexer, err = NewWalkIndexer(ctx, c.ID, c.Root, WalkOptions{
			Traverser: filesystem.Options{
				Workers:  r.cfg.Index.Workers,
				MaxDepth: c.MaxDepth,
				Rules: filesystem.IgnoreRules{
					Exclude:    r.cfg.Index.Exclude,
					IgnoreFile: r.cfg.Index.IgnoreFile,
					SkipHidden: r.cfg.Index.SkipHidden,
				},
			},
			Watch:   r.cfg.Index.Watch,
			Aliases: r.aliases,
			State:   r.state,
		}, r.logger)
		if err != nil {
			return nil, err
		}
	}

	r.logger.Debug().Str("volume", id).Str("strategy", strategy).Msg("Volume opened")
	return New(c.ID, indexer, r.cfg.Index.Dir, r.logger), nil
}

// strategyFor honors a forced strategy and otherwise probes the journal.
func (r *Registry) strategyFor(ctx context.Context, c Candidate) (string, error) {
	switch r.cfg.Index.Strategy {
	case config.StrategyWalk:
		return config.StrategyWalk, nil
	case config.StrategyJournal:
		if err := r.probe(ctx, c.ID); err != nil {
			return "", fmt.Errorf("volume %s: %w", c.ID, err)
		}
		return config.StrategyJournal, nil
	}

	if err := r.probe(ctx, c.ID); err != nil {
		if c.Strategy == config.StrategyJournal {
			r.logger.Warn().Err(err).Str("volume", c.ID).Msg("Journal unavailable, falling back to walk")
		}
		return config.StrategyWalk, nil
	}
	return config.StrategyJournal, nil
}

func (r *Registry) probe(ctx context.Context, id string) error {
	if r.opener == nil {
		return fmt.Errorf("no journal opener")
	}
	jr, err := r.opener.Open(id)
	if err != nil {
		return err
	}
	defer jr.Close()
	_, err = jr.Query(ctx)
	return err
}
