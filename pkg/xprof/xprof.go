// Package xprof is the process-wide instrumentation surface. It wraps the
// default profiler and its control listener.
//
//	var frame = xprof.Register("frame", xprof.WithColor(block.ColorBlue))
//
//	func loop(t *profiler.Thread) {
//		for {
//			end := xprof.Scope(t, frame)
//			...
//			end()
//		}
//	}
package xprof

import (
	"context"
	"net"
	"runtime"
	"strconv"
	"sync"

	"github.com/maxgio92/xprof/pkg/block"
	"github.com/maxgio92/xprof/pkg/listener"
	"github.com/maxgio92/xprof/pkg/profiler"
)

var (
	mu sync.Mutex
	ln *listener.Listener
)

type descriptorOptions struct {
	typ    block.Type
	color  block.Color
	status block.Status
}

type Option func(*descriptorOptions)

func WithType(t block.Type) Option {
	return func(o *descriptorOptions) {
		o.typ = t
	}
}

func WithColor(c block.Color) Option {
	return func(o *descriptorOptions) {
		o.color = c
	}
}

func WithStatus(s block.Status) Option {
	return func(o *descriptorOptions) {
		o.status = s
	}
}

// Default returns the process-wide profiler.
func Default() *profiler.Profiler {
	return profiler.Default()
}

// Register returns the descriptor of the calling site, creating it on the
// first call. Descriptors default to enabled blocks.
func Register(name string, opts ...Option) *block.Descriptor {
	o := &descriptorOptions{typ: block.TypeBlock, status: block.On}
	for _, f := range opts {
		f(o)
	}
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "unknown"
	}

	return profiler.Default().Register(name, file, line, o.typ, o.color, o.status)
}

// RegisterThread creates the recording storage of the calling goroutine.
func RegisterThread(name string, opts ...profiler.ThreadOption) *profiler.Thread {
	return profiler.Default().RegisterThread(name, opts...)
}

// Scope opens a block of d on t and returns the function closing it.
func Scope(t *profiler.Thread, d *block.Descriptor) func() {
	t.Begin(d)
	return t.End
}

func SetEnabled(enabled bool) {
	profiler.Default().SetEnabled(enabled)
}

func IsEnabled() bool {
	return profiler.Default().IsEnabled()
}

// DumpToFile writes the capture to path and returns the number of records.
func DumpToFile(path string) (uint32, error) {
	return profiler.Default().DumpToFile(path)
}

// StartListen serves the control protocol on port. A zero port picks a free
// one, see ListenAddr.
func StartListen(port uint16, opts ...listener.Option) error {
	mu.Lock()
	defer mu.Unlock()

	if ln == nil {
		ln = listener.New(profiler.Default(), opts...)
	}

	return ln.Start(context.Background(), net.JoinHostPort("", strconv.Itoa(int(port))))
}

// StopListen stops serving the control protocol.
func StopListen() error {
	mu.Lock()
	defer mu.Unlock()

	if ln == nil {
		return nil
	}
	err := ln.Stop()
	ln = nil

	return err
}

// ListenAddr returns the address of the control listener, or nil.
func ListenAddr() net.Addr {
	mu.Lock()
	defer mu.Unlock()

	if ln == nil {
		return nil
	}
	return ln.Addr()
}
