package format

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/maxgio92/xprof/pkg/block"
)

const (
	blockFixedSize         = 4 + 8 + 8
	valueFixedSize         = 4 + 8 + 8 + 1 + 1
	contextSwitchFixedSize = 8 + 8 + 8 + 8
	bookmarkFixedSize      = 8 + 4
	descriptorFixedSize    = 4 + 4 + 4 + 1 + 1 + 2

	// MaxRecordSize is the largest length a u16 prefix can carry.
	MaxRecordSize = math.MaxUint16
)

var le = binary.LittleEndian

// BlockRecordSize returns the encoded size of a block record.
func BlockRecordSize(name string) int {
	return blockFixedSize + len(name)
}

// PutBlock encodes a block record into dst, which must hold
// BlockRecordSize(name) bytes.
func PutBlock(dst []byte, id uint32, begin, end int64, name string) {
	le.PutUint32(dst[0:], id)
	le.PutUint64(dst[4:], uint64(begin))
	le.PutUint64(dst[12:], uint64(end))
	copy(dst[blockFixedSize:], name)
}

// RecordID returns the descriptor id every block and value record starts with.
func RecordID(rec []byte) (uint32, error) {
	if len(rec) < 4 {
		return 0, errors.Wrap(ErrBadRecord, "record shorter than its id")
	}
	return le.Uint32(rec), nil
}

func DecodeBlock(rec []byte) (Block, error) {
	if len(rec) < blockFixedSize {
		return Block{}, errors.Wrapf(ErrBadRecord, "block record of %d bytes", len(rec))
	}
	return Block{
		ID:    le.Uint32(rec[0:]),
		Begin: int64(le.Uint64(rec[4:])),
		End:   int64(le.Uint64(rec[12:])),
		Name:  string(rec[blockFixedSize:]),
	}, nil
}

// ValueRecordSize returns the encoded size of a value record.
func ValueRecordSize(data []byte) int {
	return valueFixedSize + len(data)
}

func PutValue(dst []byte, id uint32, ts int64, valueID uint64, vt block.ValueType, isArray bool, data []byte) {
	le.PutUint32(dst[0:], id)
	le.PutUint64(dst[4:], uint64(ts))
	le.PutUint64(dst[12:], valueID)
	dst[20] = byte(vt)
	dst[21] = boolByte(isArray)
	copy(dst[valueFixedSize:], data)
}

func DecodeValue(rec []byte) (Value, error) {
	if len(rec) < valueFixedSize {
		return Value{}, errors.Wrapf(ErrBadRecord, "value record of %d bytes", len(rec))
	}
	data := make([]byte, len(rec)-valueFixedSize)
	copy(data, rec[valueFixedSize:])

	return Value{
		ID:        le.Uint32(rec[0:]),
		Timestamp: int64(le.Uint64(rec[4:])),
		ValueID:   le.Uint64(rec[12:]),
		Type:      block.ValueType(rec[20]),
		IsArray:   rec[21] != 0,
		Data:      data,
	}, nil
}

// ContextSwitchRecordSize returns the encoded size of a context switch record.
func ContextSwitchRecordSize(process string) int {
	return contextSwitchFixedSize + len(process)
}

func PutContextSwitch(dst []byte, cs ContextSwitch) {
	le.PutUint64(dst[0:], uint64(cs.Begin))
	le.PutUint64(dst[8:], uint64(cs.End))
	le.PutUint64(dst[16:], cs.From)
	le.PutUint64(dst[24:], cs.To)
	copy(dst[contextSwitchFixedSize:], cs.Process)
}

func DecodeContextSwitch(rec []byte) (ContextSwitch, error) {
	if len(rec) < contextSwitchFixedSize {
		return ContextSwitch{}, errors.Wrapf(ErrBadRecord, "context switch record of %d bytes", len(rec))
	}
	return ContextSwitch{
		Begin:   int64(le.Uint64(rec[0:])),
		End:     int64(le.Uint64(rec[8:])),
		From:    le.Uint64(rec[16:]),
		To:      le.Uint64(rec[24:]),
		Process: string(rec[contextSwitchFixedSize:]),
	}, nil
}

func encodeBookmark(b Bookmark) []byte {
	text := truncate(b.Text, MaxRecordSize-bookmarkFixedSize)
	rec := make([]byte, bookmarkFixedSize+len(text))
	le.PutUint64(rec[0:], uint64(b.Pos))
	le.PutUint32(rec[8:], uint32(b.Color))
	copy(rec[bookmarkFixedSize:], text)

	return rec
}

func decodeBookmark(rec []byte) (Bookmark, error) {
	if len(rec) < bookmarkFixedSize {
		return Bookmark{}, errors.Wrapf(ErrBadRecord, "bookmark record of %d bytes", len(rec))
	}
	return Bookmark{
		Pos:   int64(le.Uint64(rec[0:])),
		Color: block.Color(le.Uint32(rec[8:])),
		Text:  string(rec[bookmarkFixedSize:]),
	}, nil
}

func encodeDescriptor(d Descriptor) []byte {
	name := truncate(d.Name, MaxRecordSize-descriptorFixedSize)
	file := truncate(d.File, MaxRecordSize-descriptorFixedSize-len(name))

	rec := make([]byte, descriptorFixedSize+len(name)+len(file))
	le.PutUint32(rec[0:], d.ID)
	le.PutUint32(rec[4:], uint32(d.Line))
	le.PutUint32(rec[8:], uint32(d.Color))
	rec[12] = byte(d.Type)
	rec[13] = byte(d.Status)
	le.PutUint16(rec[14:], uint16(len(name)))
	copy(rec[descriptorFixedSize:], name)
	copy(rec[descriptorFixedSize+len(name):], file)

	return rec
}

func decodeDescriptor(rec []byte) (Descriptor, error) {
	if len(rec) < descriptorFixedSize {
		return Descriptor{}, errors.Wrapf(ErrBadRecord, "descriptor record of %d bytes", len(rec))
	}
	nameLen := int(le.Uint16(rec[14:]))
	if descriptorFixedSize+nameLen > len(rec) {
		return Descriptor{}, errors.Wrapf(ErrBadRecord, "descriptor name of %d bytes overflows its record", nameLen)
	}
	rest := rec[descriptorFixedSize:]

	return Descriptor{
		ID:     le.Uint32(rec[0:]),
		Line:   int32(le.Uint32(rec[4:])),
		Color:  block.Color(le.Uint32(rec[8:])),
		Type:   block.Type(rec[12]),
		Status: block.Status(rec[13]),
		Name:   string(rest[:nameLen]),
		File:   string(rest[nameLen:]),
	}, nil
}

// WriteRecord writes rec prefixed by its u16 length.
func WriteRecord(w io.Writer, rec []byte) (int, error) {
	if len(rec) > MaxRecordSize {
		return 0, errors.Wrapf(ErrBadRecord, "record of %d bytes is too large", len(rec))
	}
	var prefix [2]byte
	le.PutUint16(prefix[:], uint16(len(rec)))
	if _, err := w.Write(prefix[:]); err != nil {
		return 0, err
	}
	if _, err := w.Write(rec); err != nil {
		return 0, err
	}

	return len(prefix) + len(rec), nil
}

// readRecord reads a u16 length-prefixed record.
func readRecord(r io.Reader, buf []byte) ([]byte, error) {
	var prefix [2]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	n := int(le.Uint16(prefix[:]))
	if cap(buf) < n {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	return buf, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func truncate(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(s) > n {
		return s[:n]
	}
	return s
}
