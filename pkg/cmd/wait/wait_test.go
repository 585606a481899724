package wait

import (
	"context"
	"net"
	"testing"
	"time"

	log "github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/maxgio92/xprof/pkg/listener"
	"github.com/maxgio92/xprof/pkg/profiler"
)

func TestWait_Ready(t *testing.T) {
	logger := log.New(log.NewTestWriter(t))
	p := profiler.New(profiler.WithLogger(logger))
	defer p.Close()
	ln := listener.New(p, listener.WithLogger(logger))
	require.NoError(t, ln.Start(context.Background(), "127.0.0.1:0"))
	defer ln.Stop()

	o := NewOptions(
		WithContext(context.Background()),
		WithLogger(logger),
		WithAddr(ln.Addr().String()),
		WithTimeout(time.Second),
	)
	cmd := NewCommand(o)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
}

func TestWait_LateListener(t *testing.T) {
	// Reserve a free port, then release it for the listener started later.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	logger := log.New(log.NewTestWriter(t))
	p := profiler.New(profiler.WithLogger(logger))
	defer p.Close()
	ln := listener.New(p, listener.WithLogger(logger))
	defer ln.Stop()

	go func() {
		time.Sleep(150 * time.Millisecond)
		ln.Start(context.Background(), addr)
	}()

	o := NewOptions(
		WithContext(context.Background()),
		WithLogger(logger),
		WithAddr(addr),
		WithTimeout(5*time.Second),
		WithRetryInterval(50*time.Millisecond),
	)
	require.NoError(t, o.Run(nil, nil))
}

func TestWait_Timeout(t *testing.T) {
	o := NewOptions(
		WithContext(context.Background()),
		WithLogger(log.New(log.NewTestWriter(t))),
		WithAddr("127.0.0.1:1"),
		WithTimeout(200*time.Millisecond),
		WithRetryInterval(50*time.Millisecond),
	)
	start := time.Now()
	require.ErrorIs(t, o.Run(nil, nil), ErrTimeout)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestNewOptions_Defaults(t *testing.T) {
	o := NewOptions(WithLogLevel("debug"))
	require.Equal(t, defaultTimeout, o.timeout)
	require.Equal(t, defaultRetryInterval, o.retryInterval)
	require.Equal(t, "debug", o.LogLevel)
	require.NotEmpty(t, o.addr)
}
