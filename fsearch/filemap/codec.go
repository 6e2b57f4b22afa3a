package filemap

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/filesearch/fsearch/common"
	"github.com/cespare/xxhash/v2"
)

// cursor is a bounds checked big-endian reader over a byte slice.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

func (c *cursor) take(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", common.ErrDataFormat, n, c.off, c.remaining())
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *cursor) u8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) u16() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (c *cursor) u32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (c *cursor) u64() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (c *cursor) str() (string, error) {
	n, err := c.u16()
	if err != nil {
		return "", err
	}
	b, err := c.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func appendStr(buf []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return buf, fmt.Errorf("%w: %d bytes", common.ErrFieldTooLong, len(s))
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...), nil
}

// writeAtomic streams records produced by encode into a temp file next to
// path and renames it into place once everything is flushed.
func writeAtomic(path string, encode func(w *bufio.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriterSize(tmp, 1<<16)
	if err := encode(w); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write index file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close index file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Save writes the map. The file starts with the journal position followed by
// ref, parent, name, filter and rank for every record.
func (m *RefMap) Save(path string) error {
	return writeAtomic(path, func(w *bufio.Writer) error {
		buf := binary.BigEndian.AppendUint64(make([]byte, 0, 256), uint64(m.StartUSN))
		if _, err := w.Write(buf); err != nil {
			return err
		}

		var err error
		m.idx.descend(func(r *RefRecord) bool {
			buf = buf[:0]
			buf = binary.BigEndian.AppendUint64(buf, r.Ref)
			buf = binary.BigEndian.AppendUint64(buf, r.Parent)
			if buf, err = appendStr(buf, r.Name); err != nil {
				err = fmt.Errorf("record %d: %w", r.Ref, err)
				return false
			}
			buf = binary.BigEndian.AppendUint32(buf, r.Filter)
			buf = append(buf, byte(r.Rank))
			_, err = w.Write(buf)
			return err == nil
		})
		return err
	})
}

// Load replaces the map with the contents of path. On error the map is left untouched.
func (m *RefMap) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	c := &cursor{buf: data}
	usn, err := c.u64()
	if err != nil {
		return fmt.Errorf("header: %w", err)
	}

	loaded := NewRefMap()
	loaded.StartUSN = int64(usn)
	for c.remaining() > 0 {
		r, err := readRefRecord(c)
		if err != nil {
			return fmt.Errorf("record %d: %w", loaded.Len(), err)
		}
		loaded.InsertRecord(r)
	}

	*m = *loaded
	return nil
}

func readRefRecord(c *cursor) (RefRecord, error) {
	var r RefRecord
	var err error
	if r.Ref, err = c.u64(); err != nil {
		return r, err
	}
	if r.Parent, err = c.u64(); err != nil {
		return r, err
	}
	if r.Name, err = c.str(); err != nil {
		return r, err
	}
	if r.Filter, err = c.u32(); err != nil {
		return r, err
	}
	rank, err := c.u8()
	if err != nil {
		return r, err
	}
	r.Rank = int8(rank)
	return r, nil
}

// Save writes the map. Every record carries the xxhash of its full path,
// then dir, name, filter, rank and the alias list.
func (m *PathMap) Save(path string) error {
	return writeAtomic(path, func(w *bufio.Writer) error {
		buf := make([]byte, 0, 512)

		var err error
		m.idx.descend(func(r *PathRecord) bool {
			buf, err = appendPathRecord(buf[:0], r)
			if err != nil {
				err = fmt.Errorf("record %s: %w", r.Path(), err)
				return false
			}
			_, err = w.Write(buf)
			return err == nil
		})
		return err
	})
}

func appendPathRecord(buf []byte, r *PathRecord) ([]byte, error) {
	var err error
	buf = binary.BigEndian.AppendUint64(buf, xxhash.Sum64String(r.Path()))
	if buf, err = appendStr(buf, r.Dir); err != nil {
		return buf, err
	}
	if buf, err = appendStr(buf, r.Name); err != nil {
		return buf, err
	}
	buf = binary.BigEndian.AppendUint32(buf, r.Filter)
	buf = append(buf, byte(r.Rank))

	if len(r.Aliases) > math.MaxUint16 {
		return buf, fmt.Errorf("%w: %d aliases", common.ErrFieldTooLong, len(r.Aliases))
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(r.Aliases)))
	for _, a := range r.Aliases {
		if buf, err = appendStr(buf, a); err != nil {
			return buf, err
		}
	}
	return buf, nil
}

// Load replaces the map with the contents of path. On error the map is left untouched.
func (m *PathMap) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	loaded := NewPathMap(WithAliasResolver(m.aliases))
	c := &cursor{buf: data}
	for c.remaining() > 0 {
		r, err := readPathRecord(c)
		if err != nil {
			return fmt.Errorf("record %d: %w", loaded.Len(), err)
		}
		loaded.InsertRecord(r)
	}

	*m = *loaded
	return nil
}

func readPathRecord(c *cursor) (PathRecord, error) {
	var r PathRecord
	sum, err := c.u64()
	if err != nil {
		return r, err
	}
	if r.Dir, err = c.str(); err != nil {
		return r, err
	}
	if r.Name, err = c.str(); err != nil {
		return r, err
	}
	if r.Filter, err = c.u32(); err != nil {
		return r, err
	}
	rank, err := c.u8()
	if err != nil {
		return r, err
	}
	r.Rank = int8(rank)

	n, err := c.u16()
	if err != nil {
		return r, err
	}
	for i := 0; i < int(n); i++ {
		a, err := c.str()
		if err != nil {
			return r, err
		}
		r.Aliases = append(r.Aliases, a)
	}

	if got := xxhash.Sum64String(r.Path()); got != sum {
		return r, fmt.Errorf("%w: checksum mismatch for %q", common.ErrDataFormat, r.Path())
	}
	return r, nil
}
