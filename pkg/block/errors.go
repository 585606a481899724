package block

import (
	"github.com/pkg/errors"
)

var (
	ErrUnknownStatus = errors.New("unknown block status")
)
