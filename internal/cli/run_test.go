package cli

import (
	stdcontext "context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mrcljx/hupper/internal/ipc"
	"github.com/mrcljx/hupper/internal/monitor"
	"github.com/mrcljx/hupper/internal/supervise"
)

var errLaunchRefused = errors.New("launch refused")

type stubHandle struct {
	pid    int
	paths  chan string
	events chan ipc.Event
	done   chan struct{}

	exitOnce sync.Once
	mu       sync.Mutex
	term     bool
}

func newStubHandle(pid int) *stubHandle {
	return &stubHandle{
		pid:    pid,
		paths:  make(chan string, 1),
		events: make(chan ipc.Event, 1),
		done:   make(chan struct{}),
	}
}

func (h *stubHandle) exit() {
	h.exitOnce.Do(func() { close(h.done) })
}

func (h *stubHandle) PID() int { return h.pid }

func (h *stubHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *stubHandle) Terminate() {
	h.mu.Lock()
	h.term = true
	h.mu.Unlock()
	h.exit()
}

func (h *stubHandle) Terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.term
}

func (h *stubHandle) Join(ctx stdcontext.Context, timeout time.Duration) error {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}
	select {
	case <-h.done:
		return nil
	case <-timeoutC:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *stubHandle) ExitCode() int            { return 0 }
func (h *stubHandle) Paths() <-chan string     { return h.paths }
func (h *stubHandle) Events() <-chan ipc.Event { return h.events }
func (h *stubHandle) Done() <-chan struct{}    { return h.done }

type stubLauncher struct {
	launches  chan *stubHandle
	autoExit  time.Duration
	nextPID   atomic.Int32
	launchErr error
}

func (l *stubLauncher) Launch(supervise.Spec) (supervise.Handle, error) {
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	h := newStubHandle(int(l.nextPID.Add(1)))
	if l.autoExit > 0 {
		time.AfterFunc(l.autoExit, h.exit)
	}
	l.launches <- h
	return h, nil
}

type nullSource struct{}

func (nullSource) Name() string          { return "stub" }
func (nullSource) Add(path string) error { return nil }
func (nullSource) Start() error          { return nil }
func (nullSource) Close() error          { return nil }

// swapSeams replaces the launcher and watcher-backend seams for one test.
func swapSeams(t *testing.T, launcher supervise.Launcher) {
	t.Helper()
	oldLauncher := newLauncher
	oldSelect := selectWatcher
	newLauncher = func(*slog.Logger) supervise.Launcher { return launcher }
	selectWatcher = func(string, time.Duration, *slog.Logger) (monitor.Factory, string, error) {
		factory := func(onChange func(paths []string)) (monitor.Source, error) {
			return nullSource{}, nil
		}
		return factory, "stub", nil
	}
	t.Cleanup(func() {
		newLauncher = oldLauncher
		selectWatcher = oldSelect
	})
}

func TestRunStopsOnContextCancel(t *testing.T) {
	launcher := &stubLauncher{launches: make(chan *stubHandle, 4)}
	swapSeams(t, launcher)

	ctx, cancel := stdcontext.WithCancel(stdcontext.Background())
	defer cancel()

	root := NewRootCmd()
	root.SetArgs([]string{"run", "-q", "--", "/bin/true"})

	errCh := make(chan error, 1)
	go func() { errCh <- root.ExecuteContext(ctx) }()

	var first *stubHandle
	select {
	case first = <-launcher.launches:
	case <-time.After(5 * time.Second):
		t.Fatal("no worker launched")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned %v after interrupt-style cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
	if !first.Terminated() {
		t.Fatal("worker not terminated during shutdown")
	}
}

func TestOnceReturnsAfterWorkerExit(t *testing.T) {
	launcher := &stubLauncher{
		launches: make(chan *stubHandle, 4),
		autoExit: 50 * time.Millisecond,
	}
	swapSeams(t, launcher)

	root := NewRootCmd()
	root.SetArgs([]string{"once", "-q", "--interval", "20ms", "--", "/bin/true"})

	errCh := make(chan error, 1)
	go func() { errCh <- root.ExecuteContext(stdcontext.Background()) }()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("once returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("once did not return after the worker exited")
	}
	if n := int(launcher.nextPID.Load()); n != 1 {
		t.Fatalf("launched %d workers, want 1", n)
	}
}

func TestRunPropagatesLaunchFailure(t *testing.T) {
	launcher := &stubLauncher{
		launches:  make(chan *stubHandle, 1),
		launchErr: errLaunchRefused,
	}
	swapSeams(t, launcher)

	root := NewRootCmd()
	root.SetArgs([]string{"run", "-q", "--", "/bin/true"})

	err := root.ExecuteContext(stdcontext.Background())
	if err == nil {
		t.Fatal("expected launch failure to surface")
	}
}
