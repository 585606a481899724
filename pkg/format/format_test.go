package format_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/xprof/pkg/block"
	"github.com/maxgio92/xprof/pkg/format"
)

var testDescriptors = []format.Descriptor{
	{ID: 0, Name: "frame", File: "main.go", Line: 10, Type: block.TypeBlock, Color: block.ColorBlue, Status: block.On},
	{ID: 1, Name: "update", File: "update.go", Line: 22, Type: block.TypeBlock, Status: block.ForceOn},
	{ID: 2, Name: "tick", File: "main.go", Line: 30, Type: block.TypeEvent, Status: block.On},
	{ID: 3, Name: "entities", File: "world.go", Line: 7, Type: block.TypeValue, Status: block.On},
}

// post-order: update(20..40) tick(45) frame(10..100), then a second frame.
var testBlocks = []format.Block{
	{ID: 1, Begin: 20, End: 40},
	{ID: 2, Begin: 45, End: 45},
	{ID: 0, Begin: 10, End: 100, Name: "frame #1"},
	{ID: 1, Begin: 120, End: 120},
	{ID: 0, Begin: 110, End: 200},
}

func testParams() format.WriteParams {
	return format.WriteParams{
		PID:         1234,
		Descriptors: testDescriptors,
		Threads: []format.ThreadTree{
			{
				ID:    7,
				Name:  "main",
				Roots: format.BuildTree(testBlocks),
				Values: []format.Value{
					{ID: 3, Timestamp: 30, ValueID: 9, Type: block.ValueInt64, Data: []byte{1, 0, 0, 0, 0, 0, 0, 0}},
				},
				ContextSwitches: []format.ContextSwitch{
					{Begin: 50, End: 60, From: 7, To: 8, Process: "worker"},
				},
			},
			{ID: 8, Name: "idle"},
		},
		Bookmarks: []format.Bookmark{{Pos: 42, Color: block.ColorRed, Text: "spike"}},
	}
}

func TestBuildTree(t *testing.T) {
	roots := format.BuildTree(testBlocks)
	require.Len(t, roots, 2)

	first := roots[0]
	require.Equal(t, uint32(0), first.ID)
	require.Len(t, first.Children, 2)
	require.Equal(t, uint32(1), first.Children[0].ID)
	require.Equal(t, uint32(2), first.Children[1].ID)
	require.Equal(t, 2, first.Depth())

	var order []int64
	first.Walk(func(n *format.Node) { order = append(order, n.Begin) })
	require.Equal(t, []int64{20, 45, 10}, order)

	require.Len(t, roots[1].Children, 1)
}

func TestBuildTree_ZeroDurationSibling(t *testing.T) {
	roots := format.BuildTree([]format.Block{
		{ID: 2, Begin: 5, End: 5},
		{ID: 0, Begin: 5, End: 9},
		{ID: 2, Begin: 7, End: 7},
		{ID: 0, Begin: 9, End: 12},
	})
	require.Len(t, roots, 3, "the event at the frame opening instant is a sibling")
	require.Empty(t, roots[0].Children)
	require.Len(t, roots[1].Children, 1)
	require.Equal(t, int64(7), roots[1].Children[0].Begin)
	require.Empty(t, roots[2].Children)
}

func TestWriteRead_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	n, err := format.Write(&buf, testParams())
	require.NoError(t, err)
	require.Equal(t, uint32(len(testBlocks)+1), n, "blocks and the value")

	c, err := format.Read(&buf)
	require.NoError(t, err)

	require.Equal(t, format.Signature, c.Header.Signature)
	require.Equal(t, format.Version, c.Header.Version)
	require.Equal(t, uint64(1234), c.Header.PID)
	require.Equal(t, format.TicksPerSecond, c.Header.TicksPerSecond)
	require.Equal(t, int64(10), c.Header.BeginTime)
	require.Equal(t, int64(200), c.Header.EndTime)
	require.Equal(t, uint32(len(testBlocks)+1), c.Header.BlocksCount)
	require.Equal(t, uint32(1), c.Header.ThreadsCount, "empty thread sections are skipped")
	require.Equal(t, testDescriptors, c.Descriptors)

	require.Len(t, c.Threads, 1)
	th := c.Threads[0]
	require.Equal(t, uint64(7), th.ID)
	require.Equal(t, "main", th.Name)
	require.Equal(t, testBlocks, th.Blocks)
	require.Len(t, th.Values, 1)
	require.Equal(t, uint64(9), th.Values[0].ValueID)
	require.Equal(t, block.ValueInt64, th.Values[0].Type)
	require.Equal(t, []format.ContextSwitch{{Begin: 50, End: 60, From: 7, To: 8, Process: "worker"}}, th.ContextSwitches)

	require.Equal(t, []format.Bookmark{{Pos: 42, Color: block.ColorRed, Text: "spike"}}, c.Bookmarks)
	require.Equal(t, len(testBlocks), c.BlocksCount())

	d, ok := c.Descriptor(2)
	require.True(t, ok)
	require.Equal(t, "tick", d.Name)
}

func TestWrite_ZeroDurationBlock(t *testing.T) {
	p := format.WriteParams{
		Descriptors: testDescriptors[:1],
		Threads: []format.ThreadTree{{
			ID:    1,
			Roots: format.BuildTree([]format.Block{{ID: 0, Begin: 5, End: 5}}),
		}},
	}
	var buf bytes.Buffer
	_, err := format.Write(&buf, p)
	require.NoError(t, err)

	c, err := format.Read(&buf)
	require.NoError(t, err)
	require.Equal(t, []format.Block{{ID: 0, Begin: 5, End: 5}}, c.Threads[0].Blocks)
	require.Zero(t, c.Threads[0].Blocks[0].Duration())
}

func TestWrite_RangeFilter(t *testing.T) {
	tests := []struct {
		name        string
		begin, end  int64
		wantRecords int
		wantBlocks  int
		wantMarks   int
	}{
		{"whole capture", 0, 0, 6, 5, 1},
		{"first frame only", 0, 105, 4, 3, 1},
		{"second frame only", 101, 0, 2, 2, 0},
		{"outside", 300, 400, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			p.Begin, p.End = tt.begin, tt.end

			var buf bytes.Buffer
			n, err := format.Write(&buf, p)
			require.NoError(t, err)
			require.Equal(t, uint32(tt.wantRecords), n)

			c, err := format.Read(&buf)
			require.NoError(t, err)
			require.Equal(t, tt.wantBlocks, c.BlocksCount())
			require.Len(t, c.Bookmarks, tt.wantMarks)
		})
	}
}

func TestRead_Errors(t *testing.T) {
	var good bytes.Buffer
	_, err := format.Write(&good, testParams())
	require.NoError(t, err)
	data := good.Bytes()

	t.Run("bad signature", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[0] ^= 0xff
		_, err := format.Read(bytes.NewReader(bad))
		require.ErrorIs(t, err, format.ErrBadSignature)
	})

	t.Run("version too old", func(t *testing.T) {
		old := append([]byte(nil), data...)
		binary.LittleEndian.PutUint32(old[4:], format.MinVersion-1)
		_, err := format.Read(bytes.NewReader(old))
		require.ErrorIs(t, err, format.ErrUnsupportedVersion)
	})

	t.Run("truncated header", func(t *testing.T) {
		_, err := format.Read(bytes.NewReader(data[:format.HeaderSize-3]))
		require.ErrorIs(t, err, format.ErrTruncated)
	})

	t.Run("huge counts", func(t *testing.T) {
		header := func(h format.Header) *bytes.Buffer {
			h.Signature, h.Version = format.Signature, format.Version
			var buf bytes.Buffer
			require.NoError(t, binary.Write(&buf, binary.LittleEndian, h))
			return &buf
		}

		_, err := format.Read(header(format.Header{ThreadsCount: 0xffffffff}))
		require.ErrorIs(t, err, format.ErrTruncated)

		_, err = format.Read(header(format.Header{DescriptorsCount: 0xffffffff}))
		require.ErrorIs(t, err, format.ErrTruncated)

		buf := header(format.Header{BookmarksCount: 0xffff})
		require.NoError(t, binary.Write(buf, binary.LittleEndian, format.Signature))
		_, err = format.Read(buf)
		require.ErrorIs(t, err, format.ErrTruncated)

		buf = header(format.Header{ThreadsCount: 1})
		require.NoError(t, format.WriteThreadHeader(buf, 1, "main"))
		require.NoError(t, format.WriteCount(buf, 0))
		require.NoError(t, format.WriteCount(buf, 0xffffffff))
		_, err = format.Read(buf)
		require.ErrorIs(t, err, format.ErrTruncated)
	})

	t.Run("truncated body", func(t *testing.T) {
		for _, cut := range []int{format.HeaderSize + 5, len(data) / 2, len(data) - 1} {
			_, err := format.Read(bytes.NewReader(data[:cut]))
			require.ErrorIs(t, err, format.ErrTruncated, "cut at %d", cut)
		}
	})
}

func TestDescriptorTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, format.DescriptorTable(&buf, testDescriptors))

	got, err := format.ReadDescriptorTable(&buf)
	require.NoError(t, err)
	require.Equal(t, testDescriptors, got)
}
