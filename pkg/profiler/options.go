package profiler

import (
	"os"
	"time"

	log "github.com/rs/zerolog"

	"github.com/maxgio92/xprof/pkg/chunk"
)

const (
	// DefaultFrameWindow is the number of frames averaged before the
	// rolling frame statistics restart.
	DefaultFrameWindow = 100

	// DefaultGracePeriod is how long a dump waits after disabling capture
	// for the instrumentation calls racing the flag to complete.
	DefaultGracePeriod = 20 * time.Millisecond

	// DefaultStackCapacity is the preallocated depth of the open-block stack.
	DefaultStackCapacity = 64

	// MaxNameSize bounds the runtime name stored with a block.
	MaxNameSize = 255
)

type Options struct {
	logger        log.Logger
	chunkSize     int
	maxChunks     int
	stackCapacity int
	frameWindow   int
	gracePeriod   time.Duration
	clock         func() int64
	alive         func(tid int) bool
	pid           uint64
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		logger:        log.Nop(),
		chunkSize:     chunk.DefaultChunkSize,
		stackCapacity: DefaultStackCapacity,
		frameWindow:   DefaultFrameWindow,
		gracePeriod:   DefaultGracePeriod,
		alive:         threadAlive,
		pid:           uint64(os.Getpid()),
	}
}

func WithLogger(logger log.Logger) Option {
	return func(o *Options) {
		o.logger = logger
	}
}

// WithChunkSize sets the chunk size of the per-thread allocators.
func WithChunkSize(size int) Option {
	return func(o *Options) {
		o.chunkSize = size
	}
}

// WithMaxChunks bounds the memory of each per-thread allocator. Records
// past the bound are dropped.
func WithMaxChunks(n int) Option {
	return func(o *Options) {
		o.maxChunks = n
	}
}

func WithStackCapacity(n int) Option {
	return func(o *Options) {
		o.stackCapacity = n
	}
}

func WithFrameWindow(frames int) Option {
	return func(o *Options) {
		if frames > 0 {
			o.frameWindow = frames
		}
	}
}

func WithGracePeriod(d time.Duration) Option {
	return func(o *Options) {
		o.gracePeriod = d
	}
}

// WithClock replaces the timestamp source. The clock returns nanoseconds
// and must be monotonic.
func WithClock(clock func() int64) Option {
	return func(o *Options) {
		o.clock = clock
	}
}

// WithLivenessCheck replaces the OS thread liveness check used to expire
// guarded threads.
func WithLivenessCheck(alive func(tid int) bool) Option {
	return func(o *Options) {
		o.alive = alive
	}
}

func WithPID(pid uint64) Option {
	return func(o *Options) {
		o.pid = pid
	}
}
