package client_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	log "github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/maxgio92/xprof/pkg/block"
	"github.com/maxgio92/xprof/pkg/client"
	"github.com/maxgio92/xprof/pkg/format"
	"github.com/maxgio92/xprof/pkg/listener"
	"github.com/maxgio92/xprof/pkg/profiler"
)

func serve(t *testing.T) (*profiler.Profiler, string) {
	t.Helper()
	logger := log.New(log.NewTestWriter(t))
	p := profiler.New(profiler.WithLogger(logger), profiler.WithGracePeriod(0))
	t.Cleanup(p.Close)

	l := listener.New(p, listener.WithLogger(logger), listener.WithPollInterval(5*time.Millisecond))
	require.NoError(t, l.Start(context.Background(), "127.0.0.1:0"))
	t.Cleanup(func() { require.NoError(t, l.Stop()) })

	return p, l.Addr().String()
}

func dial(t *testing.T, addr string) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), addr, client.WithLogger(log.New(log.NewTestWriter(t))))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c
}

func TestClient_Capture(t *testing.T) {
	p, addr := serve(t)
	d := p.Register("work", "w.go", 1, block.TypeBlock, block.ColorDefault, block.On)
	c := dial(t, addr)
	ctx := context.Background()

	require.False(t, c.State().Enabled)
	require.NoError(t, c.StartCapture(ctx))
	require.NoError(t, c.Ping(ctx))

	th := p.RegisterThread("worker")
	th.Begin(d)
	th.End()

	data, err := c.StopCapture(ctx)
	require.NoError(t, err)
	capture, err := format.Read(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 1, capture.BlocksCount())

	require.NoError(t, c.StartCapture(ctx))
	_, err = c.StopCapture(ctx)
	require.ErrorIs(t, err, client.ErrNothingCaptured)
}

func TestClient_ReconnectSeesState(t *testing.T) {
	p, addr := serve(t)
	c := dial(t, addr)
	require.NoError(t, c.StartCapture(context.Background()))
	require.NoError(t, c.SetEventTracing(context.Background(), true))
	_, err := c.Descriptions(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	require.Eventually(t, func() bool {
		c2, err := client.Dial(context.Background(), addr)
		if err != nil {
			return false
		}
		defer c2.Close()
		return c2.State() == client.State{Enabled: true, EventTracing: true}
	}, 5*time.Second, 10*time.Millisecond)
	require.True(t, p.IsEnabled())
}

func TestClient_Descriptions(t *testing.T) {
	p, addr := serve(t)
	d := p.Register("frame", "main.go", 3, block.TypeBlock, block.ColorBlue, block.On)
	c := dial(t, addr)
	ctx := context.Background()

	require.NoError(t, c.SetBlockStatus(ctx, d.ID(), block.OnWithoutChildren))
	descs, err := c.Descriptions(ctx)
	require.NoError(t, err)
	require.Equal(t, []format.Descriptor{{
		ID:     d.ID(),
		Name:   "frame",
		File:   "main.go",
		Line:   3,
		Type:   block.TypeBlock,
		Color:  block.ColorBlue,
		Status: block.OnWithoutChildren,
	}}, descs)
}

func TestClient_MainThreadFPS(t *testing.T) {
	p, addr := serve(t)
	d := p.Register("frame", "main.go", 3, block.TypeBlock, block.ColorBlue, block.On)
	th := p.RegisterThread("main", profiler.WithMainThread())
	th.Begin(d)
	time.Sleep(2 * time.Millisecond)
	th.End()

	c := dial(t, addr)
	maxFrame, avgFrame, err := c.MainThreadFPS(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, maxFrame, 2*time.Millisecond)
	require.Equal(t, maxFrame, avgFrame)
}

func TestClient_StopCaptureCancelled(t *testing.T) {
	_, addr := serve(t)
	c := dial(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.StopCapture(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDial_Refused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := client.Dial(ctx, "127.0.0.1:1")
	require.Error(t, err)
}
