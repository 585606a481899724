package client

import (
	"github.com/pkg/errors"
)

var (
	ErrUnexpectedReply = errors.New("unexpected reply")
	ErrNothingCaptured = errors.New("nothing captured")
)
