// Package report summarizes a capture per descriptor and per thread.
package report

import (
	"encoding/json"
	"io"
	"math"
	"slices"

	"github.com/maxgio92/xprof/pkg/format"
)

// BlockStats aggregates the closed blocks of one descriptor. Durations are
// in nanoseconds.
type BlockStats struct {
	ID    uint32 `json:"id"`
	Name  string `json:"name"`
	File  string `json:"file"`
	Line  int32  `json:"line"`
	Type  string `json:"type"`
	Count int    `json:"count"`
	Total int64  `json:"total_ns"`
	Self  int64  `json:"self_ns"`
	Min   int64  `json:"min_ns"`
	Max   int64  `json:"max_ns"`
	Avg   int64  `json:"avg_ns"`
}

type ThreadStats struct {
	ID              uint64 `json:"id"`
	Name            string `json:"name"`
	Blocks          int    `json:"blocks"`
	Values          int    `json:"values"`
	ContextSwitches int    `json:"context_switches"`
	Frames          int    `json:"frames"`
	MaxDepth        int    `json:"max_depth"`
}

type Report struct {
	Path      string        `json:"path,omitempty"`
	PID       uint64        `json:"pid"`
	Duration  int64         `json:"duration_ns"`
	Records   uint32        `json:"records"`
	Bookmarks int           `json:"bookmarks"`
	Threads   []ThreadStats `json:"threads"`
	Blocks    []BlockStats  `json:"blocks"`
}

type ReportOption func(*Report)

func NewReport(opts ...ReportOption) *Report {
	report := new(Report)
	for _, opt := range opts {
		opt(report)
	}

	return report
}

func WithReportPath(path string) ReportOption {
	return func(o *Report) {
		o.Path = path
	}
}

// WithReportCapture fills the report from the decoded capture c.
func WithReportCapture(c *format.Capture) ReportOption {
	return func(o *Report) {
		o.PID = c.Header.PID
		o.Duration = c.Header.EndTime - c.Header.BeginTime
		o.Records = c.Header.BlocksCount
		o.Bookmarks = len(c.Bookmarks)
		o.Threads, o.Blocks = summarize(c)
	}
}

func summarize(c *format.Capture) ([]ThreadStats, []BlockStats) {
	byID := make(map[uint32]*BlockStats)
	threads := make([]ThreadStats, 0, len(c.Threads))

	for _, tree := range c.Trees() {
		ts := ThreadStats{
			ID:              tree.ID,
			Name:            tree.Name,
			Values:          len(tree.Values),
			ContextSwitches: len(tree.ContextSwitches),
			Frames:          len(tree.Roots),
		}
		for _, root := range tree.Roots {
			if d := root.Depth(); d > ts.MaxDepth {
				ts.MaxDepth = d
			}
			root.Walk(func(n *format.Node) {
				ts.Blocks++
				s, ok := byID[n.ID]
				if !ok {
					s = &BlockStats{ID: n.ID, Min: math.MaxInt64}
					if d, ok := c.Descriptor(n.ID); ok {
						s.Name, s.File, s.Line, s.Type = d.Name, d.File, d.Line, d.Type.String()
					}
					byID[n.ID] = s
				}
				dur := n.End - n.Begin
				self := dur
				for _, child := range n.Children {
					self -= child.End - child.Begin
				}
				s.Count++
				s.Total += dur
				s.Self += self
				s.Min = min(s.Min, dur)
				s.Max = max(s.Max, dur)
			})
		}
		threads = append(threads, ts)
	}

	blocks := make([]BlockStats, 0, len(byID))
	for _, s := range byID {
		s.Avg = s.Total / int64(s.Count)
		blocks = append(blocks, *s)
	}
	slices.SortFunc(blocks, func(a, b BlockStats) int {
		switch {
		case a.Total != b.Total:
			if a.Total > b.Total {
				return -1
			}
			return 1
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	return threads, blocks
}

func (r *Report) WriteReport(w io.Writer) error {
	encoder := json.NewEncoder(w)
	return encoder.Encode(r)
}
