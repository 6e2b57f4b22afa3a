//go:build windows

package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/ZanzyTHEbar/filesearch/fsearch/common"
	"golang.org/x/sys/windows"
)

const (
	fsctlQueryUSNJournal = 0x000900f4
	fsctlEnumUSNData     = 0x000900b3
	fsctlReadUSNJournal  = 0x000900bb

	outBufferSize = 1 << 16
)

var (
	errJournalDeleteInProgress = syscall.Errno(1178)
	errJournalNotActive        = syscall.Errno(1179)
	errJournalEntryDeleted     = syscall.Errno(1181)
)

type volumeJournal struct {
	handle windows.Handle
	buf    []byte
}

// NewOpener returns an Opener backed by the NTFS USN journal. Opening a
// volume needs administrator rights.
func NewOpener() Opener {
	return OpenerFunc(openVolume)
}

func openVolume(volume string) (Journal, error) {
	name := `\\.\` + strings.TrimSuffix(volume, `\`)
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	h, err := windows.CreateFile(p,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil,
		windows.OPEN_EXISTING,
		0,
		0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", common.ErrJournalUnavailable, name, err)
	}
	return &volumeJournal{handle: h, buf: make([]byte, outBufferSize)}, nil
}

func (j *volumeJournal) ioctl(code uint32, in []byte) ([]byte, error) {
	var n uint32
	var inPtr *byte
	if len(in) > 0 {
		inPtr = &in[0]
	}
	err := windows.DeviceIoControl(j.handle, code, inPtr, uint32(len(in)), &j.buf[0], uint32(len(j.buf)), &n, nil)
	if err != nil {
		return nil, err
	}
	return j.buf[:n], nil
}

func (j *volumeJournal) Query(ctx context.Context) (Info, error) {
	out, err := j.ioctl(fsctlQueryUSNJournal, nil)
	if err != nil {
		if errors.Is(err, errJournalNotActive) || errors.Is(err, errJournalDeleteInProgress) {
			return Info{}, fmt.Errorf("%w: %v", common.ErrJournalUnavailable, err)
		}
		return Info{}, err
	}
	if len(out) < 40 {
		return Info{}, fmt.Errorf("%w: journal data of %d bytes", common.ErrDataFormat, len(out))
	}
	return Info{
		JournalID:      binary.LittleEndian.Uint64(out[0:]),
		FirstUSN:       int64(binary.LittleEndian.Uint64(out[8:])),
		NextUSN:        int64(binary.LittleEndian.Uint64(out[16:])),
		LowestValidUSN: int64(binary.LittleEndian.Uint64(out[24:])),
		MaxUSN:         int64(binary.LittleEndian.Uint64(out[32:])),
	}, nil
}

func (j *volumeJournal) Enumerate(ctx context.Context, highUSN int64, fn func(Record) error) error {
	// MFT_ENUM_DATA_V0
	in := make([]byte, 24)
	var start uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(in[0:], start)
		binary.LittleEndian.PutUint64(in[8:], 0)
		binary.LittleEndian.PutUint64(in[16:], uint64(highUSN))

		out, err := j.ioctl(fsctlEnumUSNData, in)
		if errors.Is(err, windows.ERROR_HANDLE_EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("enumerate usn data: %w", err)
		}
		next, err := DecodeBuffer(out, fn)
		if err != nil {
			return err
		}
		if next == start {
			return nil
		}
		start = next
	}
}

func (j *volumeJournal) ReadSince(ctx context.Context, startUSN int64, journalID uint64, mask Reason, fn func(Record) error) (int64, error) {
	// READ_USN_JOURNAL_DATA_V0
	in := make([]byte, 40)
	usn := startUSN
	for {
		if err := ctx.Err(); err != nil {
			return usn, err
		}
		binary.LittleEndian.PutUint64(in[0:], uint64(usn))
		binary.LittleEndian.PutUint32(in[8:], uint32(mask))
		binary.LittleEndian.PutUint32(in[12:], 0)
		binary.LittleEndian.PutUint64(in[16:], 0)
		binary.LittleEndian.PutUint64(in[24:], 0)
		binary.LittleEndian.PutUint64(in[32:], journalID)

		out, err := j.ioctl(fsctlReadUSNJournal, in)
		if errors.Is(err, errJournalEntryDeleted) || errors.Is(err, errJournalNotActive) || errors.Is(err, errJournalDeleteInProgress) {
			return usn, fmt.Errorf("%w: %v", common.ErrJournalInvalidated, err)
		}
		if err != nil {
			return usn, fmt.Errorf("read usn journal: %w", err)
		}
		next, err := DecodeBuffer(out, fn)
		if err != nil {
			return usn, err
		}
		if len(out) <= 8 || int64(next) == usn {
			return int64(next), nil
		}
		usn = int64(next)
	}
}

func (j *volumeJournal) Close() error {
	return windows.CloseHandle(j.handle)
}
