package common

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Sentinel errors shared by the index packages
var (
	ErrDataFormat         = errors.New("index data format error")
	ErrFieldTooLong       = errors.New("field exceeds 65535 bytes")
	ErrJournalUnavailable = errors.New("change journal unavailable")
	ErrJournalInvalidated = errors.New("change journal invalidated")
	ErrVolumeGone         = errors.New("volume no longer present")
	ErrNotReady           = errors.New("searcher not ready")
)

// IndexError carries the operation and volume that failed.
type IndexError struct {
	Op          string
	Volume      string
	Path        string
	Err         error
	Recoverable bool
}

func (e *IndexError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Volume != "" {
		fmt.Fprintf(&b, " [%s]", e.Volume)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

// NewIndexError wraps err. Recoverable is derived from the sentinel that is wrapped.
func NewIndexError(op, volume, path string, err error) *IndexError {
	return &IndexError{
		Op:          op,
		Volume:      volume,
		Path:        path,
		Err:         err,
		Recoverable: IsRebuildable(err),
	}
}

// IsRebuildable reports whether err is fixed by rebuilding the volume index from scratch.
func IsRebuildable(err error) bool {
	return errors.Is(err, ErrDataFormat) ||
		errors.Is(err, ErrJournalInvalidated) ||
		errors.Is(err, fs.ErrNotExist)
}
