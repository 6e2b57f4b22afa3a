package volume

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/filesearch/fsearch/common"
	"github.com/pelletier/go-toml/v2"
)

// VolumeState is what the state file remembers about one volume.
type VolumeState struct {
	Strategy  string    `toml:"strategy"`
	JournalID string    `toml:"journal_id,omitempty"`
	USN       int64     `toml:"usn,omitempty"`
	Records   int       `toml:"records"`
	IndexedAt time.Time `toml:"indexed_at"`
}

// Journal returns the journal id as a number. ok is false when none is recorded.
func (s VolumeState) Journal() (id uint64, ok bool) {
	if s.JournalID == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(s.JournalID, 16, 64)
	return id, err == nil
}

// SetJournal records id in hex, which survives TOML's signed integers.
func (s *VolumeState) SetJournal(id uint64) {
	s.JournalID = fmt.Sprintf("%016x", id)
}

type stateDoc struct {
	Volumes map[string]VolumeState `toml:"volumes"`
}

// StateFile is a human readable TOML file with one table per volume. It is
// safe for concurrent use.
type StateFile struct {
	path string

	mu  sync.Mutex
	doc stateDoc
}

// OpenStateFile loads path. A missing file yields an empty state. A file that
// does not parse yields an empty state and an error wrapping ErrDataFormat.
func OpenStateFile(path string) (*StateFile, error) {
	s := &StateFile{path: path, doc: stateDoc{Volumes: make(map[string]VolumeState)}}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("failed to read state file: %w", err)
	}

	var doc stateDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return s, fmt.Errorf("%w: state file %s: %v", common.ErrDataFormat, path, err)
	}
	if doc.Volumes != nil {
		s.doc = doc
	}
	return s, nil
}

// Path returns the file location.
func (s *StateFile) Path() string {
	return s.path
}

// Get returns the state of volume id.
func (s *StateFile) Get(id string) (VolumeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.doc.Volumes[id]
	return st, ok
}

// Update applies fn to the state of volume id and saves the file.
func (s *StateFile) Update(id string, fn func(*VolumeState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.doc.Volumes[id]
	fn(&st)
	s.doc.Volumes[id] = st
	return s.saveLocked()
}

// Delete forgets volume id and saves the file.
func (s *StateFile) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.Volumes[id]; !ok {
		return nil
	}
	delete(s.doc.Volumes, id)
	return s.saveLocked()
}

// IDs returns the recorded volume ids in sorted order.
func (s *StateFile) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.doc.Volumes))
	for id := range s.doc.Volumes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *StateFile) saveLocked() error {
	data, err := toml.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("failed to encode state file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return os.Rename(tmp, s.path)
}
