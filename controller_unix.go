//go:build unix

package netharness

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup puts the child in its own process group so
// that signals reach the processes it spawns as well.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalTerminate sends SIGTERM to the child's process group.
func signalTerminate(cmd *exec.Cmd) error {
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

// signalKill sends SIGKILL to the child's process group.
func signalKill(cmd *exec.Cmd) error {
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
