//go:build !windows

package config

import "golang.org/x/sys/unix"

// isProcessAlive reports whether the instance's pid still names a running
// process. EPERM means it exists under another user.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
