package common

import (
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/maxgio92/xprof/internal/settings"
)

// DaemonPID returns the PID stored in the PID file.
func DaemonPID() (int, bool) {
	pidData, err := os.ReadFile(settings.PidFile)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
	if err != nil {
		return 0, false
	}

	return pid, true
}

func IsDaemonRunning() bool {
	pid, ok := DaemonPID()
	if !ok {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Check if process exists
	return process.Signal(syscall.Signal(0)) == nil
}
