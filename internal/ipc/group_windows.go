//go:build windows

package ipc

import (
	"errors"
	"log/slog"
	"os"
)

// Kill terminates every tracked child, best effort. Without job objects only
// the direct children are reachable; see the package documentation.
func (g *Group) Kill(log *slog.Logger) {
	for _, pid := range g.PIDs() {
		proc, err := os.FindProcess(pid)
		if err != nil {
			continue
		}
		if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			if log != nil {
				log.Warn("kill process", "pid", pid, "error", err)
			}
		}
	}
}
