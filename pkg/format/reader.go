package format

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/maxgio92/xprof/pkg/block"
)

const maxPrealloc = 1024

// Read decodes a whole capture stream.
func Read(r io.Reader) (*Capture, error) {
	br := bufio.NewReader(r)
	c := new(Capture)

	if err := binary.Read(br, le, &c.Header); err != nil {
		return nil, truncated(err, "header")
	}
	if c.Header.Signature != Signature {
		return nil, errors.Wrapf(ErrBadSignature, "got %#08x", c.Header.Signature)
	}
	if c.Header.Version < MinVersion {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "version %#08x is older than %#08x", c.Header.Version, MinVersion)
	}

	descs, err := readDescriptors(br, int(c.Header.DescriptorsCount))
	if err != nil {
		return nil, err
	}
	c.Descriptors = descs

	types := make(map[uint32]block.Type, len(descs))
	for _, d := range descs {
		types[d.ID] = d.Type
	}

	var buf []byte
	c.Threads = make([]Thread, 0, capacity(c.Header.ThreadsCount))
	for i := uint32(0); i < c.Header.ThreadsCount; i++ {
		t, err := readThread(br, types, &buf)
		if err != nil {
			return nil, errors.Wrapf(err, "thread section %d", i)
		}
		c.Threads = append(c.Threads, t)
	}

	if err := readFooter(br); err != nil {
		return nil, err
	}

	if c.Header.BookmarksCount > 0 {
		c.Bookmarks = make([]Bookmark, 0, capacity(uint32(c.Header.BookmarksCount)))
		for i := uint16(0); i < c.Header.BookmarksCount; i++ {
			rec, err := readRecord(br, buf)
			if err != nil {
				return nil, truncated(err, "bookmark")
			}
			b, err := decodeBookmark(rec)
			if err != nil {
				return nil, err
			}
			c.Bookmarks = append(c.Bookmarks, b)
		}
		if err := readFooter(br); err != nil {
			return nil, errors.Wrap(err, "bookmarks")
		}
	}

	return c, nil
}

// ReadDescriptorTable decodes the payload written by DescriptorTable.
func ReadDescriptorTable(r io.Reader) ([]Descriptor, error) {
	var n uint32
	if err := binary.Read(r, le, &n); err != nil {
		return nil, truncated(err, "descriptors count")
	}

	return readDescriptors(r, int(n))
}

func readDescriptors(r io.Reader, n int) ([]Descriptor, error) {
	descs := make([]Descriptor, 0, capacity(uint32(n)))
	var buf []byte
	for i := 0; i < n; i++ {
		rec, err := readRecord(r, buf)
		if err != nil {
			return nil, truncated(err, "descriptor")
		}
		buf = rec
		d, err := decodeDescriptor(rec)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}

	return descs, nil
}

func readThread(r io.Reader, types map[uint32]block.Type, buf *[]byte) (Thread, error) {
	var (
		t  Thread
		th threadHeader
	)
	if err := binary.Read(r, le, &th); err != nil {
		return t, truncated(err, "thread header")
	}
	name := make([]byte, th.NameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return t, truncated(err, "thread name")
	}
	t.ID = th.ID
	t.Name = string(name)

	var count uint32
	if err := binary.Read(r, le, &count); err != nil {
		return t, truncated(err, "context switches count")
	}
	for i := uint32(0); i < count; i++ {
		rec, err := readRecord(r, *buf)
		if err != nil {
			return t, truncated(err, "context switch")
		}
		*buf = rec
		cs, err := DecodeContextSwitch(rec)
		if err != nil {
			return t, err
		}
		t.ContextSwitches = append(t.ContextSwitches, cs)
	}

	if err := binary.Read(r, le, &count); err != nil {
		return t, truncated(err, "blocks count")
	}
	t.Blocks = make([]Block, 0, capacity(count))
	for i := uint32(0); i < count; i++ {
		rec, err := readRecord(r, *buf)
		if err != nil {
			return t, truncated(err, "block")
		}
		*buf = rec
		id, err := RecordID(rec)
		if err != nil {
			return t, err
		}
		typ, ok := types[id]
		if !ok {
			return t, errors.Wrapf(ErrUnknownDescriptor, "id %d", id)
		}
		if typ == block.TypeValue {
			v, err := DecodeValue(rec)
			if err != nil {
				return t, err
			}
			t.Values = append(t.Values, v)
			continue
		}
		b, err := DecodeBlock(rec)
		if err != nil {
			return t, err
		}
		t.Blocks = append(t.Blocks, b)
	}

	return t, nil
}

func readFooter(r io.Reader) error {
	var sig uint32
	if err := binary.Read(r, le, &sig); err != nil {
		return truncated(err, "footer")
	}
	if sig != Signature {
		return errors.Wrapf(ErrBadSignature, "footer %#08x", sig)
	}

	return nil
}

// capacity bounds a preallocation sized by a count read from the stream,
// which a corrupted stream can set to anything.
func capacity(count uint32) int {
	return int(min(count, maxPrealloc))
}

func truncated(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.Wrapf(ErrTruncated, "reading %s", what)
	}
	return errors.Wrapf(err, "reading %s", what)
}
