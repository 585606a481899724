package settings

import (
	"fmt"

	"github.com/maxgio92/xprof/pkg/format"
)

const (
	CmdName = "xprof"

	// DefaultPort is the control listener port used by run and expected by
	// the remote commands.
	DefaultPort uint16 = 28077

	FileExt = format.FileExt
)

var (
	PidFile     = fmt.Sprintf("/tmp/%s.pid", CmdName)
	LogFile     = fmt.Sprintf("/tmp/%s.log", CmdName)
	DefaultAddr = fmt.Sprintf("127.0.0.1:%d", DefaultPort)
)
