//go:build !windows

package core

import (
	"os/exec"
	"syscall"
)

// configureTermination places the child in its own process group so that the
// runtime's grandchildren receive SIGTERM along with it.
func configureTermination(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM); err != nil {
			return cmd.Process.Signal(syscall.SIGTERM)
		}
		return nil
	}
}
