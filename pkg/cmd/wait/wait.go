package wait

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/maxgio92/xprof/internal/settings"
	"github.com/maxgio92/xprof/pkg/client"
)

const CmdName = "wait"

func NewCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:               CmdName,
		Short:             fmt.Sprintf("Wait for the %s control listener to be ready", settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE:              o.Run,
	}

	cmd.Flags().StringVarP(&o.addr, "addr", "a", o.addr, "Address of the control listener")
	cmd.Flags().DurationVar(&o.timeout, "timeout", o.timeout, "Timeout")
	cmd.Flags().DurationVar(&o.retryInterval, "retry-interval", o.retryInterval, "Interval between connection attempts")

	return cmd
}

func (o *Options) Run(_ *cobra.Command, _ []string) error {
	logger := o.Logger.With().Str("component", CmdName).Logger()
	logger.Info().Str("addr", o.addr).Msg("waiting for the control listener to be ready")

	ctx, cancel := context.WithTimeout(o.Ctx, o.timeout)
	defer cancel()

	for {
		// The handshake is complete once ConnectionAccepted is received.
		c, err := client.Dial(ctx, o.addr, client.WithLogger(logger), client.WithTimeout(o.retryInterval))
		if err == nil {
			st := c.State()
			c.Close()
			logger.Info().Bool("capturing", st.Enabled).Msg("control listener is ready")
			return nil
		}
		if errors.Is(err, syscall.EACCES) {
			return errors.Wrap(err, "failed connecting")
		}
		logger.Debug().Err(err).Msg("control listener not ready")

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errors.Wrapf(ErrTimeout, "after %s", o.timeout)
			}
			return ctx.Err()
		case <-time.After(o.retryInterval):
		}
	}
}
