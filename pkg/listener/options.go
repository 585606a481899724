package listener

import (
	"time"

	log "github.com/rs/zerolog"
)

// DefaultPollInterval is the read timeout of the control connection while
// a dump is pending.
const DefaultPollInterval = 20 * time.Millisecond

type Options struct {
	logger       log.Logger
	pollInterval time.Duration
}

type Option func(*Options)

func WithLogger(logger log.Logger) Option {
	return func(o *Options) {
		o.logger = logger
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}
