package describe

import (
	"bytes"
	"context"
	"testing"

	log "github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/maxgio92/xprof/pkg/block"
	"github.com/maxgio92/xprof/pkg/cmd/options"
	"github.com/maxgio92/xprof/pkg/listener"
	"github.com/maxgio92/xprof/pkg/profiler"
)

func TestParseChanges(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    []StatusChange
		wantErr bool
	}{
		{"none", nil, []StatusChange{}, false},
		{"names", []string{"3=off-recursive", "4=force-on"}, []StatusChange{{3, block.OffRecursive}, {4, block.ForceOn}}, false},
		{"numeric status", []string{" 1 =5"}, []StatusChange{{1, block.OnWithoutChildren}}, false},
		{"missing separator", []string{"3"}, nil, true},
		{"bad id", []string{"x=on"}, nil, true},
		{"bad status", []string{"3=sometimes"}, nil, true},
		{"invalid numeric status", []string{"3=2"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseChanges(tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDescribe(t *testing.T) {
	logger := log.New(log.NewTestWriter(t))
	p := profiler.New(profiler.WithLogger(logger))
	defer p.Close()
	frame := p.Register("frame", "main.go", 10, block.TypeBlock, block.ColorBlue, block.On)
	p.Register("update", "update.go", 22, block.TypeBlock, block.ColorGreen, block.On)

	ln := listener.New(p, listener.WithLogger(logger))
	require.NoError(t, ln.Start(context.Background(), "127.0.0.1:0"))
	defer ln.Stop()

	cmd := NewCommand(&options.CommonOptions{Ctx: context.Background(), Logger: logger})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--addr", ln.Addr().String(),
		"--set", "0=off-recursive",
		"--event-tracing", "true",
	})
	require.NoError(t, cmd.Execute())

	require.Equal(t, block.OffRecursive, frame.Status())
	require.True(t, p.IsEventTracingEnabled())

	table := out.String()
	require.Contains(t, table, "NAME")
	require.Contains(t, table, "frame")
	require.Contains(t, table, "off-recursive")
	require.Contains(t, table, "update.go:22")
}

func TestDescribe_InvalidChange(t *testing.T) {
	cmd := NewCommand(&options.CommonOptions{Ctx: context.Background(), Logger: log.Nop()})
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--addr", "127.0.0.1:1", "--set", "frame=on"})

	require.ErrorContains(t, cmd.Execute(), "invalid block id")
}
