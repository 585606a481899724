package options

import (
	"context"

	log "github.com/rs/zerolog"
)

// CommonOptions are shared by the root command and every subcommand.
type CommonOptions struct {
	Ctx      context.Context
	Logger   log.Logger
	LogLevel string
}
