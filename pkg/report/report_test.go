package report_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/xprof/pkg/block"
	"github.com/maxgio92/xprof/pkg/format"
	"github.com/maxgio92/xprof/pkg/report"
)

func testCapture() *format.Capture {
	return &format.Capture{
		Header: format.Header{PID: 7, BeginTime: 0, EndTime: 300, BlocksCount: 5},
		Descriptors: []format.Descriptor{
			{ID: 0, Name: "frame", File: "main.go", Line: 10, Type: block.TypeBlock},
			{ID: 1, Name: "update", File: "main.go", Line: 20, Type: block.TypeBlock},
		},
		Threads: []format.Thread{{
			ID:   1,
			Name: "main",
			Blocks: []format.Block{
				{ID: 1, Begin: 10, End: 40},
				{ID: 1, Begin: 50, End: 60},
				{ID: 0, Begin: 0, End: 100},
				{ID: 0, Begin: 100, End: 300},
			},
			Values: []format.Value{{ID: 2, Timestamp: 20}},
		}},
		Bookmarks: []format.Bookmark{{Pos: 5, Text: "start"}},
	}
}

func TestNewReportWithOptions(t *testing.T) {
	r := report.NewReport(
		report.WithReportPath("capture.prof"),
		report.WithReportCapture(testCapture()),
	)

	require.Equal(t, "capture.prof", r.Path)
	require.Equal(t, uint64(7), r.PID)
	require.Equal(t, int64(300), r.Duration)
	require.Equal(t, 1, r.Bookmarks)

	require.Equal(t, []report.ThreadStats{{
		ID: 1, Name: "main", Blocks: 4, Values: 1, Frames: 2, MaxDepth: 2,
	}}, r.Threads)

	require.Len(t, r.Blocks, 2)
	frame, update := r.Blocks[0], r.Blocks[1]
	require.Equal(t, report.BlockStats{
		ID: 0, Name: "frame", File: "main.go", Line: 10, Type: "block",
		Count: 2, Total: 300, Self: 260, Min: 100, Max: 200, Avg: 150,
	}, frame)
	require.Equal(t, report.BlockStats{
		ID: 1, Name: "update", File: "main.go", Line: 20, Type: "block",
		Count: 2, Total: 40, Self: 40, Min: 10, Max: 30, Avg: 20,
	}, update)
}

func TestWriteReportJSONOutput(t *testing.T) {
	r := report.NewReport(report.WithReportCapture(testCapture()))

	var buf bytes.Buffer
	require.NoError(t, r.WriteReport(&buf))

	var parsed report.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	require.Equal(t, r, &parsed)
}

func TestWriteReportToBufferContainsExpectedFields(t *testing.T) {
	r := report.NewReport(
		report.WithReportCapture(testCapture()),
		report.WithReportPath("mycapture.prof"),
	)

	var buf bytes.Buffer
	require.NoError(t, r.WriteReport(&buf))

	output := buf.String()
	require.True(t, strings.Contains(output, "update"))
	require.True(t, strings.Contains(output, "self_ns"))
	require.True(t, strings.Contains(output, "context_switches"))
	require.True(t, strings.Contains(output, "mycapture.prof"))
}

func TestEmptyCapture(t *testing.T) {
	r := report.NewReport(report.WithReportCapture(&format.Capture{}))
	require.Empty(t, r.Threads)
	require.Empty(t, r.Blocks)
}
