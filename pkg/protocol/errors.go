package protocol

import (
	"github.com/pkg/errors"
)

var (
	ErrBadMagic        = errors.New("bad message magic")
	ErrUnknownMessage  = errors.New("unknown message type")
	ErrPayloadTooLarge = errors.New("payload too large")
)
