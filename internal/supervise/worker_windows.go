//go:build windows

package supervise

import (
	"errors"
	"log/slog"
	"os"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

// Windows has no graceful termination signal for arbitrary processes;
// terminate ends the worker process directly.
func terminate(pid int, log *slog.Logger) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) && log != nil {
		log.Warn("kill worker", "pid", pid, "error", err)
	}
}

func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	return state.ExitCode()
}
