//go:build unix

package hooks

import (
	"os/exec"
	"syscall"
)

// killProcessGroup starts the script in its own process group and makes
// context cancellation kill the whole group, so children of the script die
// with it.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
