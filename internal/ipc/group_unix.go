//go:build unix

package ipc

import (
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"
)

// killGrace bounds how long Kill waits between the graceful signal and the
// forceful one.
const killGrace = 2 * time.Second

// Kill terminates every tracked process group, best effort. Each group first
// receives SIGTERM; anything still alive after the grace period receives
// SIGKILL. Processes that already exited are skipped silently, other signal
// failures are logged.
func (g *Group) Kill(log *slog.Logger) {
	pids := g.PIDs()
	for _, pid := range pids {
		g.signal(pid, unix.SIGTERM, log)
	}

	deadline := time.Now().Add(killGrace)
	for _, pid := range pids {
		for processAlive(pid) && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
		}
		if processAlive(pid) {
			g.signal(pid, unix.SIGKILL, log)
		}
	}
}

func (g *Group) signal(pid int, sig unix.Signal, log *slog.Logger) {
	// Negative pid targets the whole process group; workers are spawned with
	// Setpgid so descendants are included.
	err := unix.Kill(-pid, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return
	}
	if log != nil {
		log.Warn("signal process group", "pid", pid, "signal", unix.SignalName(sig), "error", err)
	}
}

func processAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
