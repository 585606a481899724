package format

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// WriteHeader writes h, filling in the signature, version and time unit.
func WriteHeader(w io.Writer, h Header) error {
	h.Signature = Signature
	h.Version = Version
	h.TicksPerSecond = TicksPerSecond
	if err := binary.Write(w, le, &h); err != nil {
		return errors.Wrap(err, "failed to write header")
	}

	return nil
}

// EncodeDescriptors encodes the descriptor table and returns its size.
func EncodeDescriptors(w io.Writer, descs []Descriptor) (int, error) {
	total := 0
	for _, d := range descs {
		n, err := WriteRecord(w, encodeDescriptor(d))
		if err != nil {
			return total, errors.Wrapf(err, "failed to write descriptor %d", d.ID)
		}
		total += n
	}

	return total, nil
}

// DescriptorsSize returns the number of bytes EncodeDescriptors writes.
func DescriptorsSize(descs []Descriptor) int {
	total := 0
	for _, d := range descs {
		total += 2 + len(encodeDescriptor(d))
	}
	return total
}

type threadHeader struct {
	ID      uint64
	NameLen uint16
}

// WriteThreadHeader opens a thread section.
func WriteThreadHeader(w io.Writer, id uint64, name string) error {
	name = truncate(name, MaxRecordSize)
	if err := binary.Write(w, le, threadHeader{ID: id, NameLen: uint16(len(name))}); err != nil {
		return errors.Wrap(err, "failed to write thread header")
	}
	if _, err := io.WriteString(w, name); err != nil {
		return errors.Wrap(err, "failed to write thread name")
	}

	return nil
}

// WriteCount writes the u32 number of records that follow.
func WriteCount(w io.Writer, n int) error {
	return binary.Write(w, le, uint32(n))
}

// WriteFooter closes a section.
func WriteFooter(w io.Writer) error {
	return binary.Write(w, le, Signature)
}

// WriteBookmarks writes the bookmark section, closed by its own footer.
// Nothing is written without bookmarks.
func WriteBookmarks(w io.Writer, bookmarks []Bookmark) error {
	if len(bookmarks) == 0 {
		return nil
	}
	for _, b := range bookmarks {
		if _, err := WriteRecord(w, encodeBookmark(b)); err != nil {
			return errors.Wrap(err, "failed to write bookmark")
		}
	}

	return WriteFooter(w)
}

// DescriptorTable is the payload of a descriptions reply: a count followed
// by the descriptor records.
func DescriptorTable(w io.Writer, descs []Descriptor) error {
	if err := WriteCount(w, len(descs)); err != nil {
		return errors.Wrap(err, "failed to write descriptors count")
	}
	_, err := EncodeDescriptors(w, descs)

	return err
}
