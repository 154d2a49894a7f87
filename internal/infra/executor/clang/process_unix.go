//go:build !windows

package clang

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setupProcessGroup runs the tool as the leader of its own process group so
// the compiler jobs it forks can be killed with it.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// killProcessGroup sends SIGKILL to every process in the tool's group.
// It returns os.ErrProcessDone when the group is already empty.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}
