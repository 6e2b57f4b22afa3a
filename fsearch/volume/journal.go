package volume

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/filesearch/fsearch/common"
	"github.com/ZanzyTHEbar/filesearch/fsearch/config"
	"github.com/ZanzyTHEbar/filesearch/fsearch/filemap"
	"github.com/ZanzyTHEbar/filesearch/fsearch/journal"

	"github.com/rs/zerolog"
)

// JournalIndexer indexes a volume from its change journal: one bulk
// enumeration to build, then replay of journal entries to update.
type JournalIndexer struct {
	id        string
	opener    journal.Opener
	store     *filemap.RefMap
	state     *StateFile
	journalID uint64
	known     bool
	logger    zerolog.Logger
}

var _ Indexer = (*JournalIndexer)(nil)

// NewJournalIndexer creates an indexer for volume id, such as "C:".
func NewJournalIndexer(id string, opener journal.Opener, state *StateFile, logger zerolog.Logger) *JournalIndexer {
	j := &JournalIndexer{
		id:     id,
		opener: opener,
		store:  filemap.NewRefMap(),
		state:  state,
		logger: logger.With().Str("volume", id).Logger(),
	}
	if state != nil {
		if st, ok := state.Get(id); ok {
			j.journalID, j.known = st.Journal()
		}
	}
	return j
}

func (j *JournalIndexer) Strategy() string {
	return config.StrategyJournal
}

func (j *JournalIndexer) Store() filemap.Store {
	return j.store
}

// Build enumerates every file on the volume and remembers the journal
// position the enumeration is current up to.
func (j *JournalIndexer) Build(ctx context.Context) error {
	jr, err := j.opener.Open(j.id)
	if err != nil {
		return err
	}
	defer jr.Close()

	info, err := jr.Query(ctx)
	if err != nil {
		return fmt.Errorf("query journal: %w", err)
	}

	j.store.Clear()
	j.store.Insert(filemap.RootRef, 0, j.id)

	err = jr.Enumerate(ctx, info.NextUSN, func(r journal.Record) error {
		j.store.Insert(r.Ref, r.Parent, r.Name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("enumerate journal: %w", err)
	}

	j.store.StartUSN = info.NextUSN
	j.journalID, j.known = info.JournalID, true
	j.logger.Debug().Int("records", j.store.Len()).Int64("usn", info.NextUSN).Msg("Journal enumerated")
	return nil
}

// Update replays journal entries from the stored position.
func (j *JournalIndexer) Update(ctx context.Context) ([]uint64, error) {
	if !j.known {
		return nil, fmt.Errorf("%w: no journal id recorded", common.ErrJournalInvalidated)
	}

	jr, err := j.opener.Open(j.id)
	if err != nil {
		return nil, err
	}
	defer jr.Close()

	var touched []uint64
	next, err := jr.ReadSince(ctx, j.store.StartUSN, j.journalID, journal.IndexMask, func(r journal.Record) error {
		switch {
		case r.Reason.Removes():
			j.store.Remove(r.Ref)
		case r.Reason.Adds():
			j.store.Insert(r.Ref, r.Parent, r.Name)
		default:
			return nil
		}
		touched = append(touched, r.Ref)
		return nil
	})
	if err != nil {
		return touched, err
	}

	j.store.StartUSN = next
	return touched, nil
}

func (j *JournalIndexer) Persist(path string) error {
	if err := j.store.Save(path); err != nil {
		return err
	}
	if j.state == nil {
		return nil
	}
	return j.state.Update(j.id, func(s *VolumeState) {
		s.Strategy = config.StrategyJournal
		s.SetJournal(j.journalID)
		s.USN = j.store.StartUSN
		s.Records = j.store.Len()
		s.IndexedAt = time.Now()
	})
}

func (j *JournalIndexer) Close() error {
	return nil
}
