//go:build !unix

package netharness

import (
	"os"
	"os/exec"
)

func configureProcessGroup(cmd *exec.Cmd) {
	// nothing
}

// signalTerminate interrupts the child process.
func signalTerminate(cmd *exec.Cmd) error {
	return cmd.Process.Signal(os.Interrupt)
}

// signalKill kills the child process.
func signalKill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
