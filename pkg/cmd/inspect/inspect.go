package inspect

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/maxgio92/xprof/internal/settings"
	"github.com/maxgio92/xprof/pkg/cmd/options"
	"github.com/maxgio92/xprof/pkg/format"
	"github.com/maxgio92/xprof/pkg/report"
)

const (
	CmdName = "inspect"

	defaultTop = 10
)

type Options struct {
	report     bool
	reportFile string
	top        int

	begin  time.Duration
	end    time.Duration
	output string

	*options.CommonOptions
}

func NewCommand(opts *options.CommonOptions) *cobra.Command {
	o := new(Options)
	o.CommonOptions = opts

	cmd := &cobra.Command{
		Use:   fmt.Sprintf("%s <file%s>", CmdName, settings.FileExt),
		Short: "Inspect a capture file",
		Long: fmt.Sprintf(`
%s decodes a capture file and prints a summary of its threads and hottest blocks.
It can also produce a JSON report, or cut the capture to a time window and save it
as a new capture file.
`, CmdName),
		Args:              cobra.ExactArgs(1),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE:              o.Run,
	}

	cmd.Flags().BoolVar(&o.report, "report", false, "Print a JSON report instead of the summary")
	cmd.Flags().StringVar(&o.reportFile, "report-file", "", "Write the JSON report to a file instead of stdout")
	cmd.Flags().IntVar(&o.top, "top", defaultTop, "Number of blocks listed in the summary")
	cmd.Flags().DurationVar(&o.begin, "begin", 0, "Start of the window to keep, relative to the capture begin")
	cmd.Flags().DurationVar(&o.end, "end", 0, "End of the window to keep, relative to the capture begin (0 keeps up to the end)")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "Write the capture cut to [begin, end] to this file")

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, args []string) error {
	path := args[0]
	logger := o.Logger.With().Str("component", CmdName).Str("path", path).Logger()

	c, err := readCapture(path)
	if err != nil {
		return err
	}
	logger.Debug().
		Uint32("records", c.Header.BlocksCount).
		Int("threads", len(c.Threads)).
		Msg("capture decoded")

	if o.output != "" {
		n, err := o.cut(c)
		if err != nil {
			return err
		}
		logger.Info().Str("output", o.output).Uint32("records", n).Msg("capture cut")
	}

	r := report.NewReport(
		report.WithReportPath(path),
		report.WithReportCapture(c),
	)

	if o.report || o.reportFile != "" {
		w := cmd.OutOrStdout()
		if o.reportFile != "" {
			f, err := os.Create(o.reportFile)
			if err != nil {
				return errors.Wrap(err, "failed to create report file")
			}
			defer f.Close()
			w = f
		}
		if err := r.WriteReport(w); err != nil {
			return errors.Wrap(err, "failed to write report")
		}
		if o.reportFile != "" {
			logger.Info().Str("report", o.reportFile).Msg("report written")
		}
		return nil
	}

	return printSummary(cmd.OutOrStdout(), r, o.top)
}

func readCapture(path string) (*format.Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open capture")
	}
	defer f.Close()

	c, err := format.Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}

	return c, nil
}

func (o *Options) cut(c *format.Capture) (uint32, error) {
	if o.end != 0 && o.end < o.begin {
		return 0, errors.Errorf("window end %s precedes its begin %s", o.end, o.begin)
	}
	p := format.WriteParams{
		PID:         c.Header.PID,
		Descriptors: c.Descriptors,
		Threads:     c.Trees(),
		Bookmarks:   c.Bookmarks,
		Begin:       c.Header.BeginTime + int64(o.begin),
	}
	if o.end != 0 {
		p.End = c.Header.BeginTime + int64(o.end)
	}

	f, err := os.Create(o.output)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create output")
	}
	n, err := format.Write(f, p)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(o.output)
		return 0, errors.Wrapf(err, "failed to write %s", o.output)
	}

	return n, nil
}

func printSummary(w io.Writer, r *report.Report, top int) error {
	fmt.Fprintf(w, "PID:       %d\n", r.PID)
	fmt.Fprintf(w, "Duration:  %s\n", time.Duration(r.Duration))
	fmt.Fprintf(w, "Records:   %d\n", r.Records)
	fmt.Fprintf(w, "Bookmarks: %d\n\n", r.Bookmarks)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "THREAD\tNAME\tFRAMES\tBLOCKS\tVALUES\tSWITCHES\tDEPTH")
	for _, t := range r.Threads {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%d\n",
			t.ID, t.Name, t.Frames, t.Blocks, t.Values, t.ContextSwitches, t.MaxDepth)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)

	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tBLOCK\tCOUNT\tTOTAL\tSELF\tMIN\tAVG\tMAX\tLOCATION")
	for i, b := range r.Blocks {
		if top > 0 && i >= top {
			break
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s:%d\n",
			b.ID, b.Name, b.Count,
			time.Duration(b.Total), time.Duration(b.Self),
			time.Duration(b.Min), time.Duration(b.Avg), time.Duration(b.Max),
			b.File, b.Line)
	}

	return tw.Flush()
}
