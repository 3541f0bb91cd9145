package ipc

import (
	"sort"
	"sync"
)

// Group records the child processes belonging to the current supervision
// session so they can be torn down together during abnormal shutdown. The
// loop registers every spawn and forgets a pid once its reap completes, so
// the set holds exactly the unreaped children; Kill never runs on the
// normal restart path.
type Group struct {
	mu   sync.Mutex
	pids map[int]struct{}
}

// NewGroup returns an empty process group.
func NewGroup() *Group {
	return &Group{pids: make(map[int]struct{})}
}

// AddChild records a child PID as part of the session.
func (g *Group) AddChild(pid int) {
	if pid <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pids[pid] = struct{}{}
}

// Forget drops a PID once its process has been reaped.
func (g *Group) Forget(pid int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pids, pid)
}

// PIDs returns the tracked PIDs in ascending order.
func (g *Group) PIDs() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]int, 0, len(g.pids))
	for pid := range g.pids {
		out = append(out, pid)
	}
	sort.Ints(out)
	return out
}
