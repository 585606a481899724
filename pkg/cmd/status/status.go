package status

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maxgio92/xprof/internal/settings"
	"github.com/maxgio92/xprof/pkg/cmd/common"
	"github.com/maxgio92/xprof/pkg/cmd/options"
)

type Options struct {
	*options.CommonOptions
}

func NewCommand(opts *options.CommonOptions) *cobra.Command {
	o := &Options{CommonOptions: opts}

	cmd := &cobra.Command{
		Use:               "status",
		Short:             fmt.Sprintf("Check the %s demo workload daemon status", settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Run:               o.Run,
	}

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, _ []string) {
	if pid, ok := common.DaemonPID(); ok && common.IsDaemonRunning() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is running (PID %d)\n", settings.CmdName, pid)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is not running\n", settings.CmdName)
	}
}
