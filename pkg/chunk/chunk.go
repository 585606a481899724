package chunk

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	// DefaultChunkSize is the capacity in bytes of a single chunk.
	DefaultChunkSize = 8192

	// LengthSize is the size of the length prefix of each record.
	LengthSize = 2
)

// position is a cut point in the arena.
type position struct {
	chunk  int
	offset int
	size   int
	used   int
}

// Allocator is an append-only log of variably-sized records stored in
// fixed-capacity chunks. Each record is laid out as a little-endian u16
// length followed by the record bytes; a zero length terminates a chunk.
//
// Allocator is not safe for concurrent use.
type Allocator struct {
	chunks [][]byte
	offset int
	size   int
	used   int

	mark   position
	marked bool

	*Options
}

func New(opts ...Option) *Allocator {
	a := &Allocator{
		Options: &Options{chunkSize: DefaultChunkSize},
	}
	for _, f := range opts {
		f(a.Options)
	}
	if a.chunkSize < 4*LengthSize {
		a.chunkSize = DefaultChunkSize
	}
	a.chunks = [][]byte{make([]byte, a.chunkSize)}

	return a
}

// MaxRecordSize returns the largest record Allocate accepts.
func (a *Allocator) MaxRecordSize() int {
	return a.chunkSize - 2*LengthSize
}

// Allocate appends a record of n bytes and returns the writable record
// payload. It returns nil, dropping the record, when n is zero, larger than
// MaxRecordSize, or when the chunk limit has been reached.
func (a *Allocator) Allocate(n uint16) []byte {
	if n == 0 || int(n) > a.MaxRecordSize() {
		return nil
	}
	need := LengthSize + int(n)
	if a.offset+need > a.chunkSize {
		if !a.grow() {
			return nil
		}
	}

	c := a.chunks[len(a.chunks)-1]
	binary.LittleEndian.PutUint16(c[a.offset:], n)
	start := a.offset + LengthSize
	rec := c[start : start+int(n) : start+int(n)]

	a.offset += need
	a.terminate()
	a.size++
	a.used += need

	return rec
}

// MarkedAllocate appends a record that starts at the marked position. When
// no mark is set, the mark is first put at the current end, so the record is
// never part of the region flushed by SerializeToMark until the next PutMark.
func (a *Allocator) MarkedAllocate(n uint16) []byte {
	if !a.marked {
		a.PutMark()
	}

	return a.Allocate(n)
}

// PutMark remembers the current end as the cut point for SerializeToMark.
func (a *Allocator) PutMark() {
	a.mark = position{
		chunk:  len(a.chunks) - 1,
		offset: a.offset,
		size:   a.size,
		used:   a.used,
	}
	a.marked = true
	a.terminate()
}

func (a *Allocator) HasMark() bool {
	return a.marked
}

// Size returns the number of records.
func (a *Allocator) Size() int {
	return a.size
}

// MarkedSize returns the number of records up to the mark.
func (a *Allocator) MarkedSize() int {
	if !a.marked {
		return 0
	}
	return a.mark.size
}

func (a *Allocator) Empty() bool {
	return a.size == 0
}

// UsedBytes returns the number of serialized bytes, length prefixes included.
func (a *Allocator) UsedBytes() int {
	return a.used
}

// MarkedUsedBytes returns the number of serialized bytes up to the mark.
func (a *Allocator) MarkedUsedBytes() int {
	if !a.marked {
		return 0
	}
	return a.mark.used
}

// Chunks returns the number of chunks currently held.
func (a *Allocator) Chunks() int {
	return len(a.chunks)
}

// Serialize writes every record, oldest first, and clears the allocator.
// The allocator is cleared even when w fails.
func (a *Allocator) Serialize(w io.Writer) (int, error) {
	end := position{chunk: len(a.chunks) - 1, offset: a.offset, size: a.size}
	err := a.write(w, end)
	n := a.size
	a.Clear()
	if err != nil {
		return 0, errors.Wrap(err, "failed to serialize records")
	}

	return n, nil
}

// SerializeToMark writes the records up to the mark, oldest first. Records
// allocated after the mark are kept and the mark is dropped. Without a mark
// nothing is written.
func (a *Allocator) SerializeToMark(w io.Writer) (int, error) {
	if !a.marked {
		return 0, nil
	}
	end := a.mark
	err := a.write(w, end)

	tail := a.tail(end)
	a.Clear()
	for _, rec := range tail {
		copy(a.Allocate(uint16(len(rec))), rec)
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to serialize marked records")
	}

	return end.size, nil
}

// Clear drops every record and the mark, keeping a single empty chunk.
func (a *Allocator) Clear() {
	for i := 1; i < len(a.chunks); i++ {
		a.chunks[i] = nil
	}
	a.chunks = a.chunks[:1]
	a.offset = 0
	a.size = 0
	a.used = 0
	a.marked = false
	a.mark = position{}
	a.terminate()
}

func (a *Allocator) grow() bool {
	if a.maxChunks > 0 && len(a.chunks) >= a.maxChunks {
		return false
	}
	a.chunks = append(a.chunks, make([]byte, a.chunkSize))
	a.offset = 0
	a.terminate()

	return true
}

// terminate writes the end-of-chunk sentinel at the write offset.
func (a *Allocator) terminate() {
	if a.offset+LengthSize <= a.chunkSize {
		c := a.chunks[len(a.chunks)-1]
		c[a.offset] = 0
		c[a.offset+1] = 0
	}
}

// write streams the records up to end. Records are contiguous inside a chunk
// up to the first zero length, so each chunk is written in one call.
func (a *Allocator) write(w io.Writer, end position) error {
	for ci := 0; ci <= end.chunk && ci < len(a.chunks); ci++ {
		c := a.chunks[ci]
		limit := len(c)
		if ci == end.chunk {
			limit = end.offset
		}
		stop := 0
		for stop+LengthSize <= limit {
			n := int(binary.LittleEndian.Uint16(c[stop:]))
			if n == 0 || stop+LengthSize+n > limit {
				break
			}
			stop += LengthSize + n
		}
		if stop == 0 {
			continue
		}
		if _, err := w.Write(c[:stop]); err != nil {
			return err
		}
	}

	return nil
}

// tail copies the records placed after p.
func (a *Allocator) tail(p position) [][]byte {
	var out [][]byte
	for ci := p.chunk; ci < len(a.chunks); ci++ {
		c := a.chunks[ci]
		off := 0
		if ci == p.chunk {
			off = p.offset
		}
		limit := len(c)
		if ci == len(a.chunks)-1 {
			limit = a.offset
		}
		for off+LengthSize <= limit {
			n := int(binary.LittleEndian.Uint16(c[off:]))
			if n == 0 {
				break
			}
			rec := make([]byte, n)
			copy(rec, c[off+LengthSize:off+LengthSize+n])
			out = append(out, rec)
			off += LengthSize + n
		}
	}

	return out
}
