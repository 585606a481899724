package describe

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/maxgio92/xprof/internal/settings"
	"github.com/maxgio92/xprof/pkg/block"
	"github.com/maxgio92/xprof/pkg/client"
	"github.com/maxgio92/xprof/pkg/cmd/options"
	"github.com/maxgio92/xprof/pkg/format"
)

const CmdName = "describe"

type Options struct {
	addr    string
	set     []string
	tracing string

	*options.CommonOptions
}

// StatusChange is a parsed --set argument.
type StatusChange struct {
	ID     uint32
	Status block.Status
}

func NewCommand(opts *options.CommonOptions) *cobra.Command {
	o := new(Options)
	o.CommonOptions = opts

	cmd := &cobra.Command{
		Use:   CmdName,
		Short: "List and change the block descriptors of a running instrumented program",
		Long: fmt.Sprintf(`
%s fetches the block descriptors registered by an instrumented program and prints them.
With --set, block statuses are changed first. Changes are ignored by the program while
a capture is in progress.
`, CmdName),
		Example:           fmt.Sprintf("  %s %s --set 3=off-recursive --set 4=force-on", settings.CmdName, CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE:              o.Run,
	}

	cmd.Flags().StringVarP(&o.addr, "addr", "a", settings.DefaultAddr, "Address of the control listener")
	cmd.Flags().StringArrayVar(&o.set, "set", nil, "Change a block status, as <id>=<status>")
	cmd.Flags().StringVar(&o.tracing, "event-tracing", "", "Turn context switch recording on or off (true|false)")

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, _ []string) error {
	logger := o.Logger.With().Str("component", CmdName).Logger()

	changes, err := ParseChanges(o.set)
	if err != nil {
		return err
	}

	c, err := client.Dial(o.Ctx, o.addr, client.WithLogger(logger))
	if err != nil {
		return errors.Wrap(err, "failed to connect to the profiled program")
	}
	defer c.Close()

	if len(changes) > 0 && c.State().Enabled {
		logger.Warn().Msg("capture in progress, status changes will be ignored")
	}
	for _, ch := range changes {
		if err := c.SetBlockStatus(o.Ctx, ch.ID, ch.Status); err != nil {
			return errors.Wrapf(err, "failed to set status of block %d", ch.ID)
		}
		logger.Debug().Uint32("id", ch.ID).Stringer("status", ch.Status).Msg("block status sent")
	}

	if o.tracing != "" {
		enabled, err := strconv.ParseBool(o.tracing)
		if err != nil {
			return errors.Wrap(err, "invalid event tracing value")
		}
		if err := c.SetEventTracing(o.Ctx, enabled); err != nil {
			return errors.Wrap(err, "failed to set event tracing")
		}
	}

	descs, err := c.Descriptions(o.Ctx)
	if err != nil {
		return errors.Wrap(err, "failed to fetch descriptors")
	}

	return PrintDescriptors(cmd.OutOrStdout(), descs)
}

// ParseChanges parses <id>=<status> pairs.
func ParseChanges(args []string) ([]StatusChange, error) {
	changes := make([]StatusChange, 0, len(args))
	for _, arg := range args {
		id, status, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, errors.Errorf("invalid status change %q, expected <id>=<status>", arg)
		}
		n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid block id in %q", arg)
		}
		s, err := block.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		changes = append(changes, StatusChange{ID: uint32(n), Status: s})
	}

	return changes, nil
}

func PrintDescriptors(w io.Writer, descs []format.Descriptor) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSTATUS\tLOCATION")
	for _, d := range descs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s:%d\n", d.ID, d.Name, d.Type, d.Status, d.File, d.Line)
	}

	return tw.Flush()
}
