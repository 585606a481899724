package profiler

import (
	"github.com/pkg/errors"
)

var (
	ErrDumpCancelled   = errors.New("dump cancelled")
	ErrNothingToDump   = errors.New("no blocks were captured")
	ErrOutputPathEmpty = errors.New("output path is empty")
)
