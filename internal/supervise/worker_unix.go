//go:build unix

package supervise

import (
	"errors"
	"log/slog"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func sysProcAttr() *syscall.SysProcAttr {
	// Workers lead their own process group so group signals reach every
	// descendant they spawn.
	return &syscall.SysProcAttr{Setpgid: true}
}

func terminate(pid int, log *slog.Logger) {
	err := unix.Kill(-pid, unix.SIGTERM)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return
	}
	if log != nil {
		log.Warn("signal worker group", "pid", pid, "signal", "SIGTERM", "error", err)
	}
}

// exitStatus reports a signal death as the negated signal number, matching
// the exit codes printed in the status log.
func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}
