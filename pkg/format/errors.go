package format

import (
	"github.com/pkg/errors"
)

var (
	ErrBadSignature       = errors.New("bad stream signature")
	ErrUnsupportedVersion = errors.New("unsupported stream version")
	ErrTruncated          = errors.New("truncated stream")
	ErrBadRecord          = errors.New("malformed record")
	ErrUnknownDescriptor  = errors.New("record references an unknown descriptor")
)
