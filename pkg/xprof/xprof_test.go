package xprof_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/xprof/pkg/block"
	"github.com/maxgio92/xprof/pkg/client"
	"github.com/maxgio92/xprof/pkg/format"
	"github.com/maxgio92/xprof/pkg/xprof"
)

func TestRegister_PerCallSite(t *testing.T) {
	var got []*block.Descriptor
	for i := 0; i < 3; i++ {
		got = append(got, xprof.Register("loop"))
	}
	other := xprof.Register("loop", xprof.WithColor(block.ColorRed), xprof.WithType(block.TypeEvent))

	require.Same(t, got[0], got[1])
	require.Same(t, got[0], got[2])
	require.NotSame(t, got[0], other)
	require.Equal(t, block.TypeEvent, other.Type())
	require.Equal(t, block.On, other.Status())
	require.Equal(t, "xprof_test.go", filepath.Base(other.File()))
}

func TestDumpToFile(t *testing.T) {
	d := xprof.Register("work", xprof.WithStatus(block.ForceOn))
	th := xprof.RegisterThread("test")
	defer th.Close()

	xprof.SetEnabled(true)
	require.True(t, xprof.IsEnabled())
	for i := 0; i < 3; i++ {
		end := xprof.Scope(th, d)
		end()
	}

	path := filepath.Join(t.TempDir(), "out"+format.FileExt)
	n, err := xprof.DumpToFile(path)
	require.NoError(t, err)
	require.Equal(t, uint32(3), n)
	require.False(t, xprof.IsEnabled())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = format.Read(f)
	require.NoError(t, err)
}

func TestStartListen(t *testing.T) {
	require.Nil(t, xprof.ListenAddr())
	require.NoError(t, xprof.StartListen(0))
	defer func() { require.NoError(t, xprof.StopListen()) }()

	addr, ok := xprof.ListenAddr().(*net.TCPAddr)
	require.True(t, ok)

	c, err := client.Dial(context.Background(), net.JoinHostPort("127.0.0.1", strconv.Itoa(addr.Port)))
	require.NoError(t, err)
	defer c.Close()
	require.False(t, c.State().Enabled)
}
