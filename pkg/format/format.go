// Package format defines the self-describing capture stream: a header, the
// descriptor table, one section per thread and an optional bookmark section.
//
// All integers are little-endian. Every variable-sized entry is prefixed by
// its u16 length so that readers can skip fields they do not know.
package format

import (
	"encoding/binary"
	"time"

	"github.com/maxgio92/xprof/pkg/block"
)

const (
	// Signature opens the stream and closes each of its sections.
	Signature uint32 = 0x46525058 // "XPRF"

	Version uint32 = 0x00010100

	// MinVersion is the oldest stream version Read accepts.
	MinVersion uint32 = 0x00010000

	// TicksPerSecond is the unit of every timestamp in the stream.
	TicksPerSecond = int64(time.Second)

	// FileExt is the conventional capture file extension.
	FileExt = ".prof"
)

// Header opens the stream. BlocksCount counts every record of the thread
// block streams, values included.
type Header struct {
	Signature             uint32
	Version               uint32
	PID                   uint64
	TicksPerSecond        int64
	BeginTime             int64
	EndTime               int64
	MemorySize            uint64
	DescriptorsMemorySize uint64
	BlocksCount           uint32
	DescriptorsCount      uint32
	ThreadsCount          uint32
	BookmarksCount        uint16
	_                     uint16
}

var HeaderSize = binary.Size(Header{})

// Descriptor is the serialized form of a block descriptor.
type Descriptor struct {
	ID     uint32
	Name   string
	File   string
	Line   int32
	Type   block.Type
	Color  block.Color
	Status block.Status
}

// DescriptorOf converts a registered descriptor.
func DescriptorOf(d *block.Descriptor) Descriptor {
	return Descriptor{
		ID:     d.ID(),
		Name:   d.Name(),
		File:   d.File(),
		Line:   d.Line(),
		Type:   d.Type(),
		Color:  d.Color(),
		Status: d.Status(),
	}
}

// Block is a closed timed block. Events are blocks with Begin == End.
type Block struct {
	ID    uint32
	Begin int64
	End   int64
	Name  string
}

func (b Block) Duration() time.Duration {
	return time.Duration(b.End - b.Begin)
}

// Value is an arbitrary value attached to the block open when it was stored.
type Value struct {
	ID        uint32
	Timestamp int64
	ValueID   uint64
	Type      block.ValueType
	IsArray   bool
	Data      []byte
}

type ContextSwitch struct {
	Begin   int64
	End     int64
	From    uint64
	To      uint64
	Process string
}

type Bookmark struct {
	Pos   int64
	Color block.Color
	Text  string
}

// Thread is one decoded thread section.
type Thread struct {
	ID              uint64
	Name            string
	ContextSwitches []ContextSwitch
	Blocks          []Block
	Values          []Value
}

// Capture is a decoded stream.
type Capture struct {
	Header      Header
	Descriptors []Descriptor
	Threads     []Thread
	Bookmarks   []Bookmark
}

// Descriptor returns the descriptor with the given id.
func (c *Capture) Descriptor(id uint32) (Descriptor, bool) {
	if int(id) < len(c.Descriptors) && c.Descriptors[id].ID == id {
		return c.Descriptors[id], true
	}
	for _, d := range c.Descriptors {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// BlocksCount returns the number of blocks across threads.
func (c *Capture) BlocksCount() int {
	n := 0
	for _, t := range c.Threads {
		n += len(t.Blocks)
	}
	return n
}
