package wait

import "github.com/pkg/errors"

var ErrTimeout = errors.New("timeout waiting for the control listener")
