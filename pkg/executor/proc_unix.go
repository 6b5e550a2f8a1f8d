//go:build unix

package executor

import (
	"os/exec"
	"syscall"
)

// setProcAttrs puts the runner in its own process group and kills the whole
// group on context cancellation, so runner-spawned children do not outlive
// a timeout.
func setProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative pid addresses the process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
