package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/maxgio92/xprof/internal/settings"
	"github.com/maxgio92/xprof/pkg/cmd/capture"
	"github.com/maxgio92/xprof/pkg/cmd/describe"
	"github.com/maxgio92/xprof/pkg/cmd/inspect"
	"github.com/maxgio92/xprof/pkg/cmd/run"
	"github.com/maxgio92/xprof/pkg/cmd/status"
	"github.com/maxgio92/xprof/pkg/cmd/stop"
	"github.com/maxgio92/xprof/pkg/cmd/wait"
)

const logLevelInfo = "info"

func NewCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   settings.CmdName,
		Short: fmt.Sprintf("%s is a low-overhead instrumentation profiler", settings.CmdName),
		Long: fmt.Sprintf(`
%s is a low-overhead instrumentation profiler for long-running multi-threaded programs.
Instrumented programs record nested timed blocks, events and values per thread, and
expose a control listener that %s drives to start and stop captures, tune block
statuses and fetch the resulting capture stream.
`, settings.CmdName, settings.CmdName),
		DisableAutoGenTag: true,
		PersistentPreRunE: o.setupLogger,
	}

	cmd.PersistentFlags().StringVar(&o.LogLevel, "log-level", logLevelInfo, "Set the log level (trace, debug, info, warn, error, fatal, panic)")

	cmd.AddCommand(capture.NewCommand(o.CommonOptions))
	cmd.AddCommand(inspect.NewCommand(o.CommonOptions))
	cmd.AddCommand(describe.NewCommand(o.CommonOptions))
	cmd.AddCommand(run.NewCommand(o.CommonOptions))
	cmd.AddCommand(status.NewCommand(o.CommonOptions))
	cmd.AddCommand(stop.NewCommand(o.CommonOptions))
	cmd.AddCommand(wait.NewCommand(wait.NewOptions(wait.WithCommonOptions(o.CommonOptions))))

	return cmd
}

func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(
		log.ConsoleWriter{Out: os.Stderr},
	).With().Timestamp().Logger()

	opts := NewOptions(
		WithContext(ctx),
		WithLogger(logger),
	)

	if err := NewCommand(opts).ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

func (o *Options) setupLogger(_ *cobra.Command, _ []string) error {
	logLevel, err := log.ParseLevel(o.LogLevel)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	o.Logger = o.Logger.Level(logLevel)

	return nil
}
