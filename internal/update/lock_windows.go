//go:build windows

package update

import "os"

// processAlive reports whether pid names a running process. FindProcess
// opens a handle on Windows and fails for exited processes.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
