package wait

import (
	"context"
	"time"

	log "github.com/rs/zerolog"

	"github.com/maxgio92/xprof/internal/settings"
	"github.com/maxgio92/xprof/pkg/cmd/options"
)

const (
	defaultTimeout       = 120 * time.Second
	defaultRetryInterval = 500 * time.Millisecond
)

type Options struct {
	addr          string
	timeout       time.Duration
	retryInterval time.Duration

	*options.CommonOptions
}

type Option func(o *Options)

func NewOptions(opts ...Option) *Options {
	o := new(Options)
	o.CommonOptions = new(options.CommonOptions)
	o.addr = settings.DefaultAddr
	o.timeout = defaultTimeout
	o.retryInterval = defaultRetryInterval

	for _, f := range opts {
		f(o)
	}

	return o
}

// WithCommonOptions shares the root command options.
func WithCommonOptions(common *options.CommonOptions) Option {
	return func(o *Options) {
		o.CommonOptions = common
	}
}

func WithContext(ctx context.Context) Option {
	return func(o *Options) {
		o.Ctx = ctx
	}
}

func WithLogger(logger log.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithLogLevel(level string) Option {
	return func(o *Options) {
		o.LogLevel = level
	}
}

func WithAddr(addr string) Option {
	return func(o *Options) {
		o.addr = addr
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.timeout = timeout
	}
}

func WithRetryInterval(interval time.Duration) Option {
	return func(o *Options) {
		o.retryInterval = interval
	}
}
