//go:build windows

package debugger

import (
	"os/exec"
	"syscall"
)

// setupProcAttr hides the dlv console window and detaches dlv from
// console Ctrl+C events, which only reach pdscope.
func setupProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
