// Package watcher provides the concrete change sources behind the monitor:
// a native fsnotify backend and a portable polling backend, plus the backend
// selection logic.
package watcher

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleWindow collects changes that land close together into a single
// callback batch, so an editor save that touches several files triggers one
// reload instead of a burst.
const settleWindow = 100 * time.Millisecond

// Notify is the fsnotify-backed change source. fsnotify tracks directories
// more reliably than files, so Notify watches the parent directory of every
// registered path and filters events down to the registered set. That also
// catches editors that replace a file by renaming a temp file over it.
type Notify struct {
	onChange func(paths []string)
	log      *slog.Logger
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	paths   map[string]struct{}
	dirs    map[string]struct{}
	started bool
	closed  bool

	stop chan struct{}
	done chan struct{}
}

// NewNotify builds the source. Failure here means the platform refused a
// native watcher; Select treats that as the cue to fall back to polling.
func NewNotify(onChange func(paths []string), log *slog.Logger) (*Notify, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("init fsnotify: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Notify{
		onChange: onChange,
		log:      log,
		watcher:  w,
		paths:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Name identifies the backend.
func (n *Notify) Name() string {
	return "fsnotify"
}

// Add registers a path. The file itself may be missing as long as its parent
// directory exists; a later create event picks it up.
func (n *Notify) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	abs = filepath.Clean(abs)
	dir := filepath.Dir(abs)

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.paths[abs]; ok {
		return nil
	}
	n.paths[abs] = struct{}{}
	if _, ok := n.dirs[dir]; ok {
		return nil
	}
	if err := n.watcher.Add(dir); err != nil {
		delete(n.paths, abs)
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}
	n.dirs[dir] = struct{}{}
	return nil
}

// Start launches the delivery goroutine.
func (n *Notify) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return nil
	}
	n.started = true
	go n.loop()
	return nil
}

func (n *Notify) loop() {
	defer close(n.done)

	var (
		pending    []string
		pendingSet = make(map[string]struct{})
		settle     *time.Timer
		settleC    <-chan time.Time
	)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = nil
		pendingSet = make(map[string]struct{})
		n.onChange(batch)
	}

	for {
		select {
		case ev, ok := <-n.watcher.Events:
			if !ok {
				flush()
				return
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
				!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			path := filepath.Clean(ev.Name)
			n.mu.Lock()
			_, watched := n.paths[path]
			n.mu.Unlock()
			if !watched {
				continue
			}
			if _, dup := pendingSet[path]; !dup {
				pendingSet[path] = struct{}{}
				pending = append(pending, path)
			}
			if settle == nil {
				// Fixed window from the first change, so delivery latency
				// stays bounded under a steady stream of events.
				settle = time.NewTimer(settleWindow)
				settleC = settle.C
			}
		case <-settleC:
			settle = nil
			settleC = nil
			flush()
		case err, ok := <-n.watcher.Errors:
			if !ok {
				flush()
				return
			}
			n.log.Debug("watcher error", "error", err)
		case <-n.stop:
			if settle != nil {
				settle.Stop()
			}
			flush()
			return
		}
	}
}

// Close stops the backend. Pending changes are flushed before the delivery
// goroutine exits.
func (n *Notify) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	started := n.started
	n.mu.Unlock()

	close(n.stop)
	err := n.watcher.Close()
	if started {
		<-n.done
	}
	return err
}
