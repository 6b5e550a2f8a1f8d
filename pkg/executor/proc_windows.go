//go:build windows

package executor

import "os/exec"

// setProcAttrs leaves the default CommandContext kill in place. Windows has
// no process groups in the POSIX sense; WaitDelay bounds the cleanup.
func setProcAttrs(cmd *exec.Cmd) {}
