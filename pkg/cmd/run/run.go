package run

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/maxgio92/xprof/internal/settings"
	"github.com/maxgio92/xprof/pkg/cmd/common"
	"github.com/maxgio92/xprof/pkg/cmd/options"
	"github.com/maxgio92/xprof/pkg/listener"
	"github.com/maxgio92/xprof/pkg/profiler"
)

const (
	CmdName = "run"

	defaultFPS     = 60
	defaultWorkers = 4
)

type Options struct {
	port    uint16
	fps     int
	workers int
	capture bool
	output  string
	detach  bool

	*options.CommonOptions
}

func NewCommand(opts *options.CommonOptions) *cobra.Command {
	o := new(Options)
	o.CommonOptions = opts

	cmd := &cobra.Command{
		Use:   CmdName,
		Short: "Run an instrumented demo workload",
		Long: fmt.Sprintf(`
%s runs an instrumented frame loop with a pool of workers and serves the control
protocol, so that captures can be driven with the capture and describe commands.
`, CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE:              o.Run,
	}

	cmd.Flags().Uint16VarP(&o.port, "port", "p", settings.DefaultPort, "Port of the control listener")
	cmd.Flags().IntVar(&o.fps, "fps", defaultFPS, "Target frames per second of the main loop")
	cmd.Flags().IntVar(&o.workers, "workers", defaultWorkers, "Number of worker threads")
	cmd.Flags().BoolVar(&o.capture, "capture", false, "Enable the capture on start")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", fmt.Sprintf("Dump the capture to this %s file on exit", settings.FileExt))
	cmd.Flags().BoolVarP(&o.detach, "detach", "d", false, fmt.Sprintf("Run %s as daemon", settings.CmdName))

	return cmd
}

func (o *Options) Run(_ *cobra.Command, _ []string) error {
	if o.detach {
		return o.daemonize()
	}

	// Store PID file.
	os.WriteFile(settings.PidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
	defer os.Remove(settings.PidFile)

	p := profiler.New(profiler.WithLogger(o.Logger))
	defer p.Close()

	ln := listener.New(p, listener.WithLogger(o.Logger))
	addr := net.JoinHostPort("", strconv.Itoa(int(o.port)))
	if err := ln.Start(o.Ctx, addr); err != nil {
		return errors.Wrap(err, "failed to start the control listener")
	}
	defer ln.Stop()
	o.Logger.Info().Stringer("addr", ln.Addr()).Msg("control listener ready")

	if o.capture {
		p.SetEnabled(true)
	}

	NewWorkload(p, o.Logger, o.fps, o.workers).Run(o.Ctx)

	if o.output == "" {
		return nil
	}
	n, err := p.DumpToFile(o.output)
	switch {
	case errors.Is(err, profiler.ErrNothingToDump):
		o.Logger.Warn().Msg("nothing captured")
		return nil
	case err != nil:
		return errors.Wrap(err, "failed to dump the capture")
	}
	o.Logger.Info().Str("path", o.output).Uint32("records", n).Msg("capture dumped")

	return nil
}

func (o *Options) daemonize() error {
	// Check if already running.
	if common.IsDaemonRunning() {
		fmt.Println("Daemon already running")
		return nil
	}

	// Start the daemon process.
	args := []string{CmdName}
	args = append(args, fmt.Sprintf("--log-level=%s", o.LogLevel))
	args = append(args, fmt.Sprintf("--port=%d", o.port))
	args = append(args, fmt.Sprintf("--fps=%d", o.fps))
	args = append(args, fmt.Sprintf("--workers=%d", o.workers))
	args = append(args, fmt.Sprintf("--capture=%s", strconv.FormatBool(o.capture)))
	if o.output != "" {
		args = append(args, fmt.Sprintf("--output=%s", o.output))
	}

	cmd := exec.Command(os.Args[0], args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	// Redirect output to log file.
	if settings.LogFile != "" {
		f, err := os.OpenFile(settings.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			o.Logger.Error().Err(err).Msg("failed to open log file")
			return err
		}
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		o.Logger.Error().Err(err).Msgf("failed to start %s", settings.CmdName)
		return err
	}

	// Store PID file.
	if err := os.WriteFile(settings.PidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0644); err != nil {
		o.Logger.Error().Err(err).Msg("failed to write PID file")
		return err
	}
	o.Logger.Info().Int("pid", cmd.Process.Pid).Str("log", settings.LogFile).Msgf("%s started", settings.CmdName)

	return nil
}
