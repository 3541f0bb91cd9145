package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// defaultPollInterval is used when no interval is configured.
const defaultPollInterval = time.Second

// fileState is the per-path baseline a sweep compares against.
type fileState struct {
	modTime time.Time
	size    int64
}

// Polling is the portable change source. It stats every registered path on an
// interval and reports paths whose modification time advanced or whose size
// changed. A path registered while missing has a zero baseline, so its
// appearance counts as a change.
type Polling struct {
	onChange func(paths []string)
	interval time.Duration

	mu      sync.Mutex
	paths   map[string]fileState
	started bool
	closed  bool

	stop chan struct{}
	done chan struct{}
}

// NewPolling builds the source. A non-positive interval falls back to one
// second.
func NewPolling(onChange func(paths []string), interval time.Duration) *Polling {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Polling{
		onChange: onChange,
		interval: interval,
		paths:    make(map[string]fileState),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Name identifies the backend.
func (p *Polling) Name() string {
	return "polling"
}

// Add registers a path and primes its baseline from the current stat.
func (p *Polling) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	abs = filepath.Clean(abs)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.paths[abs]; ok {
		return nil
	}
	p.paths[abs] = statFile(abs)
	return nil
}

// Start launches the sweep goroutine.
func (p *Polling) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	p.started = true
	go p.loop()
	return nil
}

func (p *Polling) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stop:
			return
		}
	}
}

// sweep compares every path against its baseline and delivers one batch of
// changed paths. Missing files keep their baseline; a deletion alone is not a
// change, but the recreate that usually follows is.
func (p *Polling) sweep() {
	p.mu.Lock()
	var changed []string
	for path, prev := range p.paths {
		cur := statFile(path)
		if cur == (fileState{}) {
			continue
		}
		if cur.modTime.After(prev.modTime) || cur.size != prev.size {
			changed = append(changed, path)
		}
		p.paths[path] = cur
	}
	p.mu.Unlock()

	if len(changed) > 0 {
		sort.Strings(changed)
		p.onChange(changed)
	}
}

// Close stops the sweep goroutine.
func (p *Polling) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	close(p.stop)
	if started {
		<-p.done
	}
	return nil
}

func statFile(path string) fileState {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fileState{}
	}
	return fileState{modTime: info.ModTime(), size: info.Size()}
}
