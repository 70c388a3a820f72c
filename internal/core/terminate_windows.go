//go:build windows

package core

import (
	"os/exec"
)

func configureTermination(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
}
