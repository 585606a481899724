package format

import (
	"bytes"
	"io"
	"math"

	"github.com/pkg/errors"
)

// WriteParams describes an already rebuilt capture to serialize.
type WriteParams struct {
	PID         uint64
	Descriptors []Descriptor
	Threads     []ThreadTree
	Bookmarks   []Bookmark

	// Begin and End bound the time window to keep. A root block is kept
	// with its whole subtree when it overlaps the window. A zero End means
	// no upper bound.
	Begin int64
	End   int64
}

func (p WriteParams) overlaps(begin, end int64) bool {
	hi := p.End
	if hi == 0 {
		hi = math.MaxInt64
	}
	return end >= p.Begin && begin <= hi
}

// Write serializes the trees of p as a capture stream and returns the
// number of records written to the block streams, values included.
func Write(w io.Writer, p WriteParams) (uint32, error) {
	var (
		sections bytes.Buffer
		h        Header
		threads  uint32
	)
	h.PID = p.PID
	h.BeginTime = math.MaxInt64

	for _, t := range p.Threads {
		var (
			switches []ContextSwitch
			records  [][]byte
		)
		for _, cs := range t.ContextSwitches {
			if p.overlaps(cs.Begin, cs.End) {
				switches = append(switches, cs)
			}
		}

		// Values are interleaved with blocks by timestamp, as they were
		// stored while their enclosing block was open.
		values := make([]Value, 0, len(t.Values))
		for _, v := range t.Values {
			if p.overlaps(v.Timestamp, v.Timestamp) {
				values = append(values, v)
			}
		}
		vi := 0
		emitValues := func(until int64) {
			for vi < len(values) && values[vi].Timestamp <= until {
				v := values[vi]
				rec := make([]byte, ValueRecordSize(v.Data))
				PutValue(rec, v.ID, v.Timestamp, v.ValueID, v.Type, v.IsArray, v.Data)
				records = append(records, rec)
				vi++
			}
		}

		for _, root := range t.Roots {
			if !p.overlaps(root.Begin, root.End) {
				continue
			}
			root.Walk(func(n *Node) {
				emitValues(n.End)
				rec := make([]byte, BlockRecordSize(n.Name))
				PutBlock(rec, n.ID, n.Begin, n.End, n.Name)
				records = append(records, rec)
			})
			if root.Begin < h.BeginTime {
				h.BeginTime = root.Begin
			}
			if root.End > h.EndTime {
				h.EndTime = root.End
			}
		}
		emitValues(math.MaxInt64)

		if len(switches) == 0 && len(records) == 0 {
			continue
		}

		if err := WriteThreadHeader(&sections, t.ID, t.Name); err != nil {
			return 0, err
		}
		if err := WriteCount(&sections, len(switches)); err != nil {
			return 0, errors.Wrap(err, "failed to write context switches count")
		}
		for _, cs := range switches {
			rec := make([]byte, ContextSwitchRecordSize(cs.Process))
			PutContextSwitch(rec, cs)
			if _, err := WriteRecord(&sections, rec); err != nil {
				return 0, errors.Wrap(err, "failed to write context switch")
			}
		}
		if err := WriteCount(&sections, len(records)); err != nil {
			return 0, errors.Wrap(err, "failed to write blocks count")
		}
		for _, rec := range records {
			n, err := WriteRecord(&sections, rec)
			if err != nil {
				return 0, errors.Wrap(err, "failed to write block")
			}
			h.MemorySize += uint64(n)
		}
		h.BlocksCount += uint32(len(records))
		threads++
	}

	if h.BeginTime == math.MaxInt64 {
		h.BeginTime = p.Begin
		h.EndTime = p.End
	}

	var bookmarks []Bookmark
	for _, b := range p.Bookmarks {
		if p.overlaps(b.Pos, b.Pos) {
			bookmarks = append(bookmarks, b)
		}
	}
	if len(bookmarks) > math.MaxUint16 {
		bookmarks = bookmarks[:math.MaxUint16]
	}

	h.ThreadsCount = threads
	h.DescriptorsCount = uint32(len(p.Descriptors))
	h.DescriptorsMemorySize = uint64(DescriptorsSize(p.Descriptors))
	h.BookmarksCount = uint16(len(bookmarks))

	if err := WriteHeader(w, h); err != nil {
		return 0, err
	}
	if _, err := EncodeDescriptors(w, p.Descriptors); err != nil {
		return 0, err
	}
	if _, err := sections.WriteTo(w); err != nil {
		return 0, errors.Wrap(err, "failed to write thread sections")
	}
	if err := WriteFooter(w); err != nil {
		return 0, errors.Wrap(err, "failed to write footer")
	}
	if err := WriteBookmarks(w, bookmarks); err != nil {
		return 0, err
	}

	return h.BlocksCount, nil
}
