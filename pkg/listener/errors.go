package listener

import (
	"github.com/pkg/errors"
)

var ErrAlreadyListening = errors.New("listener already started")
