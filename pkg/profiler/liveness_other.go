//go:build !linux

package profiler

func currentOSThread() int {
	return 0
}

func threadAlive(_ int) bool {
	return true
}
