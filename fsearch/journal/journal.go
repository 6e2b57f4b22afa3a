// Package journal reads a filesystem change journal: a sequence numbered log
// of create, delete and rename events on a volume.
package journal

import (
	"context"
	"fmt"
)

// Reason is the bit set describing what happened to a file.
type Reason uint32

// Reasons the indexer acts on
const (
	ReasonFileCreate    Reason = 0x00000100
	ReasonFileDelete    Reason = 0x00000200
	ReasonRenameOldName Reason = 0x00001000
	ReasonRenameNewName Reason = 0x00002000
	ReasonClose         Reason = 0x80000000
)

// IndexMask selects the reasons that change the set of names on a volume.
const IndexMask = ReasonFileCreate | ReasonFileDelete | ReasonRenameOldName | ReasonRenameNewName

// Has reports whether any bit of o is set in r.
func (r Reason) Has(o Reason) bool {
	return r&o != 0
}

// Removes reports whether the record takes its name out of the index.
func (r Reason) Removes() bool {
	return r.Has(ReasonFileDelete | ReasonRenameOldName)
}

// Adds reports whether the record puts its name into the index.
func (r Reason) Adds() bool {
	return r.Has(ReasonFileCreate|ReasonRenameNewName) && !r.Has(ReasonFileDelete)
}

func (r Reason) String() string {
	return fmt.Sprintf("0x%08x", uint32(r))
}

// Info describes the journal of one volume.
type Info struct {
	JournalID      uint64
	FirstUSN       int64
	NextUSN        int64
	LowestValidUSN int64
	MaxUSN         int64
}

// Record is one decoded journal entry.
type Record struct {
	Ref        uint64
	Parent     uint64
	USN        int64
	Reason     Reason
	Attributes uint32
	Name       string
}

// Journal is an open change journal.
type Journal interface {
	// Query returns the current journal state.
	Query(ctx context.Context) (Info, error)

	// Enumerate calls fn for every file on the volume whose last change is
	// below highUSN.
	Enumerate(ctx context.Context, highUSN int64, fn func(Record) error) error

	// ReadSince calls fn for every entry from startUSN on whose reason
	// intersects mask and returns the position to resume from. It fails with
	// common.ErrJournalInvalidated when journalID no longer matches or
	// startUSN has been purged.
	ReadSince(ctx context.Context, startUSN int64, journalID uint64, mask Reason, fn func(Record) error) (int64, error)

	Close() error
}

// Opener opens the journal of a volume such as "C:".
type Opener interface {
	Open(volume string) (Journal, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(volume string) (Journal, error)

// Open implements Opener.
func (f OpenerFunc) Open(volume string) (Journal, error) {
	return f(volume)
}
