//go:build linux

package profiler

import (
	"os"

	"golang.org/x/sys/unix"
)

// currentOSThread returns the id of the calling OS thread.
func currentOSThread() int {
	return unix.Gettid()
}

// threadAlive reports whether the OS thread tid of this process exists.
func threadAlive(tid int) bool {
	err := unix.Tgkill(os.Getpid(), tid, 0)
	return err == nil || err == unix.EPERM
}
