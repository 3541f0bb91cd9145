// Package monitor condenses change-source callbacks into the level-style
// signal the reload loop polls: a raised flag plus the distinct paths that
// tripped it since the last clear.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Source is a change-detection backend. Implementations deliver batches of
// changed paths to the callback supplied through their Factory and must accept
// Add calls for paths that do not exist yet.
type Source interface {
	// Name identifies the backend in status output.
	Name() string
	// Add registers a path with the backend.
	Add(path string) error
	// Start begins watching. Callbacks may fire from any goroutine once it
	// returns.
	Start() error
	// Close stops the backend and waits for its delivery goroutines.
	Close() error
}

// Factory builds a Source that reports changed paths to onChange. Supplying a
// custom factory swaps the change-detection strategy without touching the
// reload loop.
type Factory func(onChange func(paths []string)) (Source, error)

// Monitor wraps a Source and owns the change signal. The signal is level
// style: once a change arrives it stays raised until ClearChanges, and each
// distinct path is recorded and logged once per cycle no matter how often the
// backend reports it.
type Monitor struct {
	log *slog.Logger
	src Source

	mu      sync.Mutex
	dirty   bool
	changed map[string]struct{}
	raised  chan struct{}
}

// New builds a Monitor around the source produced by factory.
func New(factory Factory, log *slog.Logger) (*Monitor, error) {
	if log == nil {
		log = slog.Default()
	}
	m := &Monitor{
		log:     log,
		changed: make(map[string]struct{}),
		raised:  make(chan struct{}),
	}
	src, err := factory(m.filesChanged)
	if err != nil {
		return nil, fmt.Errorf("build change source: %w", err)
	}
	m.src = src
	return m, nil
}

// Backend reports the name of the underlying source.
func (m *Monitor) Backend() string {
	return m.src.Name()
}

// Start begins change delivery.
func (m *Monitor) Start() error {
	return m.src.Start()
}

// Close shuts down the underlying source.
func (m *Monitor) Close() error {
	return m.src.Close()
}

// AddPath registers interest in path. Glob patterns are expanded first; a
// pattern matching nothing is registered literally so the backend picks the
// file up if it appears later.
func (m *Monitor) AddPath(path string) error {
	matches, err := filepath.Glob(path)
	if err != nil || len(matches) == 0 {
		matches = []string{path}
	}
	for _, p := range matches {
		if err := m.src.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
	}
	return nil
}

// filesChanged receives batches from the source. Paths already recorded since
// the last ClearChanges are dropped so a hot file cannot spam the log.
func (m *Monitor) filesChanged(paths []string) {
	m.mu.Lock()
	var fresh []string
	for _, p := range paths {
		if _, ok := m.changed[p]; ok {
			continue
		}
		m.changed[p] = struct{}{}
		fresh = append(fresh, p)
	}
	if len(fresh) > 0 && !m.dirty {
		m.dirty = true
		close(m.raised)
	}
	m.mu.Unlock()

	for _, p := range fresh {
		abs := p
		if a, err := filepath.Abs(p); err == nil {
			abs = a
		}
		m.log.Info("file changed; reloading", "path", abs)
	}
}

// IsChanged reports whether any change arrived since the last ClearChanges.
func (m *Monitor) IsChanged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// Changed returns the distinct paths recorded since the last ClearChanges in
// sorted order.
func (m *Monitor) Changed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.changed))
	for p := range m.changed {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// WaitForChange blocks until the signal raises, the timeout elapses or ctx is
// cancelled, reporting true only when the signal raised. An already raised
// signal returns true immediately.
func (m *Monitor) WaitForChange(ctx context.Context, timeout time.Duration) bool {
	m.mu.Lock()
	ch := m.raised
	m.mu.Unlock()

	select {
	case <-ch:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// ClearChanges drops the recorded paths and lowers the signal so the next
// change raises a fresh one.
func (m *Monitor) ClearChanges() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dirty {
		m.raised = make(chan struct{})
	}
	m.dirty = false
	if len(m.changed) > 0 {
		m.changed = make(map[string]struct{})
	}
}
