//go:build windows

// Package procutil holds small cross-platform process helpers.
package procutil

import (
	"os"
	"syscall"
)

const processQueryLimitedInformation = 0x1000

// GracefulTerminate terminates the process. Process.Signal on Windows
// only supports os.Kill, so termination is immediate.
func GracefulTerminate(p *os.Process) error {
	return p.Kill()
}

// IsProcessAlive reports whether a process with the given pid exists by
// opening a query-only handle to it.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := syscall.OpenProcess(processQueryLimitedInformation, false, uint32(pid))
	if err != nil {
		return false
	}
	syscall.CloseHandle(h)
	return true
}
