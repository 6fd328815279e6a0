//go:build windows

package rpc

import "os/exec"

func configureProcess(cmd *exec.Cmd) {}

// terminateProcess kills outright; Windows has no portable SIGTERM.
func terminateProcess(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func killProcess(cmd *exec.Cmd) {
	terminateProcess(cmd)
}
