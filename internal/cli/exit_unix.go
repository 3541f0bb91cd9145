//go:build unix

package cli

import (
	"os"
	"syscall"
)

// forwardStatus maps a finished target's status to this process's exit code.
// Signal deaths use the shell convention of 128 plus the signal number.
func forwardStatus(state *os.ProcessState) int {
	if state == nil {
		return 1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
