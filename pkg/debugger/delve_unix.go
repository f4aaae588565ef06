//go:build !windows

package debugger

import (
	"os/exec"
	"syscall"
)

// setupProcAttr puts dlv in its own process group, so an interrupt typed at
// the pdscope prompt reaches pdscope only and leaves the halted target
// alone.
func setupProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
