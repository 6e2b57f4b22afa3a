package journal

import (
	"encoding/binary"
	"fmt"

	"github.com/ZanzyTHEbar/filesearch/fsearch/common"
	xunicode "golang.org/x/text/encoding/unicode"
)

// USN_RECORD_V2 layout, little-endian
const (
	recordHeaderSize = 60

	offLength     = 0
	offMajor      = 4
	offRef        = 8
	offParent     = 16
	offUSN        = 24
	offReason     = 40
	offAttributes = 52
	offNameLength = 56
	offNameOffset = 58

	recordAlign = 8
)

var utf16le = xunicode.UTF16(xunicode.LittleEndian, xunicode.IgnoreBOM)

// DecodeBuffer decodes a buffer returned by the enumerate and read controls.
// The first 8 bytes hold the value to resume from, the rest is a packed run of
// records. Every length is checked against the buffer before it is used and
// records with a major version other than 2 are skipped.
func DecodeBuffer(buf []byte, fn func(Record) error) (uint64, error) {
	if len(buf) < 8 {
		return 0, fmt.Errorf("%w: journal buffer of %d bytes", common.ErrDataFormat, len(buf))
	}
	next := binary.LittleEndian.Uint64(buf)

	off := 8
	for off < len(buf) {
		rest := buf[off:]
		if len(rest) < 4 {
			return next, fmt.Errorf("%w: trailing %d bytes at offset %d", common.ErrDataFormat, len(rest), off)
		}
		size := int(binary.LittleEndian.Uint32(rest[offLength:]))
		if size == 0 {
			break
		}
		if size < 8 || size > len(rest) {
			return next, fmt.Errorf("%w: record length %d at offset %d exceeds buffer", common.ErrDataFormat, size, off)
		}
		rec := rest[:size]
		off += size

		if binary.LittleEndian.Uint16(rec[offMajor:]) != 2 {
			continue
		}

		r, err := decodeV2(rec)
		if err != nil {
			return next, fmt.Errorf("offset %d: %w", off-size, err)
		}
		if err := fn(r); err != nil {
			return next, err
		}
	}
	return next, nil
}

func decodeV2(rec []byte) (Record, error) {
	if len(rec) < recordHeaderSize {
		return Record{}, fmt.Errorf("%w: v2 record of %d bytes", common.ErrDataFormat, len(rec))
	}

	nameLen := int(binary.LittleEndian.Uint16(rec[offNameLength:]))
	nameOff := int(binary.LittleEndian.Uint16(rec[offNameOffset:]))
	if nameLen%2 != 0 || nameOff < recordHeaderSize || nameOff+nameLen > len(rec) {
		return Record{}, fmt.Errorf("%w: name at %d+%d outside record of %d bytes", common.ErrDataFormat, nameOff, nameLen, len(rec))
	}

	name, err := utf16le.NewDecoder().Bytes(rec[nameOff : nameOff+nameLen])
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", common.ErrDataFormat, err)
	}

	return Record{
		Ref:        binary.LittleEndian.Uint64(rec[offRef:]),
		Parent:     binary.LittleEndian.Uint64(rec[offParent:]),
		USN:        int64(binary.LittleEndian.Uint64(rec[offUSN:])),
		Reason:     Reason(binary.LittleEndian.Uint32(rec[offReason:])),
		Attributes: binary.LittleEndian.Uint32(rec[offAttributes:]),
		Name:       string(name),
	}, nil
}

// AppendRecord encodes r as a USN_RECORD_V2 and appends it to buf.
func AppendRecord(buf []byte, r Record) ([]byte, error) {
	name, err := utf16le.NewEncoder().Bytes([]byte(r.Name))
	if err != nil {
		return buf, err
	}
	if len(name) > 0xffff-recordHeaderSize {
		return buf, fmt.Errorf("%w: name of %d bytes", common.ErrFieldTooLong, len(name))
	}

	size := recordHeaderSize + len(name)
	size = (size + recordAlign - 1) &^ (recordAlign - 1)

	rec := make([]byte, size)
	binary.LittleEndian.PutUint32(rec[offLength:], uint32(size))
	binary.LittleEndian.PutUint16(rec[offMajor:], 2)
	binary.LittleEndian.PutUint64(rec[offRef:], r.Ref)
	binary.LittleEndian.PutUint64(rec[offParent:], r.Parent)
	binary.LittleEndian.PutUint64(rec[offUSN:], uint64(r.USN))
	binary.LittleEndian.PutUint32(rec[offReason:], uint32(r.Reason))
	binary.LittleEndian.PutUint32(rec[offAttributes:], r.Attributes)
	binary.LittleEndian.PutUint16(rec[offNameLength:], uint16(len(name)))
	binary.LittleEndian.PutUint16(rec[offNameOffset:], recordHeaderSize)
	copy(rec[recordHeaderSize:], name)

	return append(buf, rec...), nil
}

// NewBuffer returns a buffer holding next followed by the encoded records.
func NewBuffer(next uint64, records ...Record) ([]byte, error) {
	buf := binary.LittleEndian.AppendUint64(nil, next)
	var err error
	for _, r := range records {
		if buf, err = AppendRecord(buf, r); err != nil {
			return nil, err
		}
	}
	return buf, nil
}
