//go:build windows

package clang

import (
	"errors"
	"os"
	"os/exec"
)

func setupProcessGroup(*exec.Cmd) {}

// killProcessGroup kills only the direct child; Windows has no process groups
// reachable through os/exec.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return os.ErrProcessDone
}
