package capture

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/maxgio92/xprof/internal/output"
	"github.com/maxgio92/xprof/internal/settings"
	"github.com/maxgio92/xprof/pkg/client"
	"github.com/maxgio92/xprof/pkg/cmd/options"
	"github.com/maxgio92/xprof/pkg/format"
)

const (
	CmdName = "capture"

	refreshRate = 500 * time.Millisecond
)

type Options struct {
	addr         string
	output       string
	duration     time.Duration
	timeout      time.Duration
	eventTracing bool
	status       bool

	*options.CommonOptions
}

func NewCommand(opts *options.CommonOptions) *cobra.Command {
	o := new(Options)
	o.CommonOptions = opts

	cmd := &cobra.Command{
		Use:   CmdName,
		Short: "Capture a profile from a running instrumented program",
		Long: fmt.Sprintf(`
%s connects to the control listener of an instrumented program, enables the capture
and, once the duration elapsed or on interrupt, stops it and saves the capture stream
to a %s file.
`, CmdName, settings.FileExt),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE:              o.Run,
	}

	cmd.Flags().StringVarP(&o.addr, "addr", "a", settings.DefaultAddr, "Address of the control listener")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", fmt.Sprintf("Output file (default %s-<session>%s)", settings.CmdName, settings.FileExt))
	cmd.Flags().DurationVarP(&o.duration, "duration", "d", 0, "Capture duration (0 captures until interrupted)")
	cmd.Flags().DurationVar(&o.timeout, "timeout", client.DefaultTimeout, "Timeout of each control request")
	cmd.Flags().BoolVar(&o.eventTracing, "event-tracing", false, "Record context switches")
	cmd.Flags().BoolVar(&o.status, "status", true, "Periodically print the frame times of the main thread")

	return cmd
}

func (o *Options) Run(_ *cobra.Command, _ []string) error {
	session := uuid.New()
	if o.output == "" {
		o.output = DefaultOutput(session)
	}
	logger := o.Logger.With().Str("component", CmdName).Str("session", session.String()).Logger()

	c, err := client.Dial(o.Ctx, o.addr, client.WithLogger(logger), client.WithTimeout(o.timeout))
	if err != nil {
		return errors.Wrap(err, "failed to connect to the profiled program")
	}
	defer c.Close()

	if st := c.State(); st.Enabled {
		logger.Warn().Msg("capture already enabled by another session, restarting it")
	}

	if err := c.SetEventTracing(o.Ctx, o.eventTracing); err != nil {
		return errors.Wrap(err, "failed to set event tracing")
	}
	if err := c.StartCapture(o.Ctx); err != nil {
		return errors.Wrap(err, "failed to start capture")
	}
	logger.Info().Str("addr", o.addr).Msg("capture started")

	start := time.Now()
	if err := o.wait(c, start); err != nil {
		return err
	}

	// The interrupt ending the capture has cancelled o.Ctx already.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.Ctx), o.timeout)
	defer cancel()

	data, err := c.StopCapture(ctx)
	if errors.Is(err, client.ErrNothingCaptured) {
		logger.Warn().Dur("elapsed", time.Since(start)).Msg("nothing captured")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to stop capture")
	}

	capture, err := format.Read(bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "received an invalid capture stream")
	}
	if err := os.WriteFile(o.output, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", o.output)
	}

	logger.Info().
		Str("path", o.output).
		Uint32("records", capture.Header.BlocksCount).
		Int("threads", len(capture.Threads)).
		Int("bytes", len(data)).
		Msg("capture saved")

	return nil
}

// wait returns when the capture duration elapsed, on interrupt, or with an
// error when the connection to the profiled program is lost.
func (o *Options) wait(c *client.Client, start time.Time) error {
	ctx := o.Ctx
	if o.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.duration)
		defer cancel()
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		output.StatusBar(gctx, refreshRate, func() {
			// Requests are not bound to gctx so that none is left
			// half-read on the connection when the capture ends.
			reqCtx, done := context.WithTimeout(context.WithoutCancel(gctx), o.timeout)
			defer done()

			maxFrame, avgFrame, err := c.MainThreadFPS(reqCtx)
			if err != nil {
				cancel(errors.Wrap(err, "lost connection to the profiled program"))
				return
			}
			if o.status {
				output.PrintRight(output.PrettyCaptureStatus(time.Since(start), o.duration, maxFrame, avgFrame))
			}
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if o.status {
		fmt.Println()
	}

	switch err := context.Cause(ctx); err {
	case context.Canceled, context.DeadlineExceeded:
		return nil
	default:
		return err
	}
}

// DefaultOutput returns the capture file name of a session.
func DefaultOutput(session uuid.UUID) string {
	return fmt.Sprintf("%s-%s%s", settings.CmdName, session, settings.FileExt)
}
