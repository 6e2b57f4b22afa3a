package journal

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ZanzyTHEbar/filesearch/fsearch/common"
)

// memoryPage is how many records the in-memory journal packs per buffer.
const memoryPage = 16

// Memory is an in-process journal. It keeps a live file table and an event
// log and hands both out through the same buffer format as the OS journal.
type Memory struct {
	mu       sync.Mutex
	id       uint64
	next     int64
	lowest   int64
	files    map[uint64]Record
	log      []Record
	closed   bool
	failOpen error
}

var _ Journal = (*Memory)(nil)

// NewMemory returns an empty journal with the given id.
func NewMemory(id uint64) *Memory {
	return &Memory{
		id:    id,
		next:  1,
		files: make(map[uint64]Record),
	}
}

func (m *Memory) append(r Record) {
	r.USN = m.next
	m.next++
	m.log = append(m.log, r)
	if r.Reason.Removes() {
		delete(m.files, r.Ref)
	}
	if r.Reason.Adds() {
		m.files[r.Ref] = r
	}
}

// Create records a new file.
func (m *Memory) Create(ref, parent uint64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.append(Record{Ref: ref, Parent: parent, Name: name, Reason: ReasonFileCreate | ReasonClose})
}

// Delete records the removal of ref.
func (m *Memory) Delete(ref uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.files[ref]
	if !ok {
		return
	}
	m.append(Record{Ref: ref, Parent: old.Parent, Name: old.Name, Reason: ReasonFileDelete | ReasonClose})
}

// Rename records a move of ref to a new parent and name.
func (m *Memory) Rename(ref, parent uint64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.files[ref]
	if !ok {
		return
	}
	m.append(Record{Ref: ref, Parent: old.Parent, Name: old.Name, Reason: ReasonRenameOldName})
	m.append(Record{Ref: ref, Parent: parent, Name: name, Reason: ReasonRenameNewName | ReasonClose})
}

// Purge drops log entries below usn, as the OS does when the journal wraps.
func (m *Memory) Purge(usn int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lowest = usn
	m.log = slices.DeleteFunc(m.log, func(r Record) bool { return r.USN < usn })
}

// Recreate replaces the journal id, invalidating every saved position.
func (m *Memory) Recreate(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = id
	m.lowest = m.next
	m.log = nil
}

// Opener returns an Opener that hands out m for any volume.
func (m *Memory) Opener() Opener {
	return OpenerFunc(func(volume string) (Journal, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.failOpen != nil {
			return nil, m.failOpen
		}
		m.closed = false
		return m, nil
	})
}

// FailOpen makes the next opens fail with err. Nil restores normal behavior.
func (m *Memory) FailOpen(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOpen = err
}

func (m *Memory) Query(ctx context.Context) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Info{}, fmt.Errorf("journal closed")
	}
	return Info{
		JournalID:      m.id,
		FirstUSN:       m.lowest,
		NextUSN:        m.next,
		LowestValidUSN: m.lowest,
		MaxUSN:         1 << 62,
	}, nil
}

func (m *Memory) Enumerate(ctx context.Context, highUSN int64, fn func(Record) error) error {
	m.mu.Lock()
	refs := make([]uint64, 0, len(m.files))
	for ref, r := range m.files {
		if r.USN < highUSN {
			refs = append(refs, ref)
		}
	}
	slices.Sort(refs)
	records := make([]Record, 0, len(refs))
	for _, ref := range refs {
		records = append(records, m.files[ref])
	}
	m.mu.Unlock()

	return pageThrough(ctx, records, fn)
}

func (m *Memory) ReadSince(ctx context.Context, startUSN int64, journalID uint64, mask Reason, fn func(Record) error) (int64, error) {
	m.mu.Lock()
	if journalID != m.id {
		m.mu.Unlock()
		return startUSN, fmt.Errorf("%w: journal id %x, expected %x", common.ErrJournalInvalidated, m.id, journalID)
	}
	if startUSN < m.lowest {
		m.mu.Unlock()
		return startUSN, fmt.Errorf("%w: usn %d purged, lowest valid is %d", common.ErrJournalInvalidated, startUSN, m.lowest)
	}
	var records []Record
	for _, r := range m.log {
		if r.USN >= startUSN && r.Reason.Has(mask) {
			records = append(records, r)
		}
	}
	next := m.next
	m.mu.Unlock()

	if err := pageThrough(ctx, records, fn); err != nil {
		return startUSN, err
	}
	return next, nil
}

// pageThrough runs records through the same encode and decode path the
// platform journal uses.
func pageThrough(ctx context.Context, records []Record, fn func(Record) error) error {
	for start := 0; start < len(records); start += memoryPage {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+memoryPage, len(records))
		buf, err := NewBuffer(uint64(end), records[start:end]...)
		if err != nil {
			return err
		}
		if _, err := DecodeBuffer(buf, fn); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
