package stop

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maxgio92/xprof/internal/settings"
	"github.com/maxgio92/xprof/pkg/cmd/common"
	"github.com/maxgio92/xprof/pkg/cmd/options"
)

const (
	stopRetries  = 50
	stopInterval = 100 * time.Millisecond
)

type Options struct {
	*options.CommonOptions
}

func NewCommand(opts *options.CommonOptions) *cobra.Command {
	o := &Options{CommonOptions: opts}

	cmd := &cobra.Command{
		Use:               "stop",
		Short:             fmt.Sprintf("Stop the %s demo workload daemon", settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Run:               o.Run,
	}

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, _ []string) {
	out := cmd.OutOrStdout()

	pid, ok := common.DaemonPID()
	if !ok {
		fmt.Fprintf(out, "%s not running or PID file not found\n", settings.CmdName)
		return
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintln(out, "Process not found")
		return
	}

	// SIGTERM lets the workload dump its capture before exiting.
	if err := process.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(out, "Failed to stop daemon: %v\n", err)
		return
	}

	// Wait for process to stop.
	for i := 0; i < stopRetries; i++ {
		if !common.IsDaemonRunning() {
			fmt.Fprintf(out, "%s stopped (PID %d)\n", settings.CmdName, pid)
			os.Remove(settings.PidFile)
			return
		}
		time.Sleep(stopInterval)
	}

	// Force kill if still running.
	process.Kill()
	os.Remove(settings.PidFile)
	o.Logger.Warn().Int("pid", pid).Msg("daemon did not stop in time")
	fmt.Fprintf(out, "%s force killed (PID %d)\n", settings.CmdName, pid)
}
