package supervise

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mrcljx/hupper/internal/ipc"
	"github.com/mrcljx/hupper/internal/monitor"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeSource struct {
	mu    sync.Mutex
	added []string
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Add(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, path)
	return nil
}

func (s *fakeSource) Start() error { return nil }
func (s *fakeSource) Close() error { return nil }

func (s *fakeSource) has(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.added {
		if p == path {
			return true
		}
	}
	return false
}

type fakeWorker struct {
	pid    int
	paths  chan string
	events chan ipc.Event
	done   chan struct{}

	// stubborn workers ignore Terminate; tests end them explicitly.
	stubborn bool

	exitOnce sync.Once

	mu         sync.Mutex
	exitCode   int
	terminated bool
	joined     bool
}

func newFakeWorker(pid int) *fakeWorker {
	return &fakeWorker{
		pid:    pid,
		paths:  make(chan string, 8),
		events: make(chan ipc.Event, 1),
		done:   make(chan struct{}),
	}
}

func (w *fakeWorker) exit(code int) {
	w.exitOnce.Do(func() {
		w.mu.Lock()
		w.exitCode = code
		w.mu.Unlock()
		close(w.done)
	})
}

func (w *fakeWorker) PID() int { return w.pid }

func (w *fakeWorker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (w *fakeWorker) Terminate() {
	w.mu.Lock()
	w.terminated = true
	stubborn := w.stubborn
	w.mu.Unlock()
	if !stubborn {
		w.exit(-15)
	}
}

func (w *fakeWorker) Terminated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.terminated
}

func (w *fakeWorker) wasJoined() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.joined
}

func (w *fakeWorker) Join(ctx context.Context, timeout time.Duration) error {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}
	select {
	case <-w.done:
		w.mu.Lock()
		w.joined = true
		w.mu.Unlock()
		return nil
	case <-timeoutC:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *fakeWorker) ExitCode() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exitCode
}

func (w *fakeWorker) Paths() <-chan string     { return w.paths }
func (w *fakeWorker) Events() <-chan ipc.Event { return w.events }
func (w *fakeWorker) Done() <-chan struct{}    { return w.done }

type fakeLauncher struct {
	launchCh chan *fakeWorker

	mu      sync.Mutex
	workers []*fakeWorker
	next    int
}

func (l *fakeLauncher) Launch(Spec) (Handle, error) {
	l.mu.Lock()
	if l.next >= len(l.workers) {
		l.mu.Unlock()
		return nil, errors.New("launcher exhausted")
	}
	w := l.workers[l.next]
	l.next++
	l.mu.Unlock()
	l.launchCh <- w
	return w, nil
}

func (l *fakeLauncher) launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next
}

type reloaderFixture struct {
	reloader *Reloader
	launcher *fakeLauncher
	source   *fakeSource
	emit     func(paths []string)
	logs     *syncBuffer
}

func newFixture(t *testing.T, interval time.Duration, workers ...*fakeWorker) *reloaderFixture {
	t.Helper()
	logs := &syncBuffer{}
	log := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	src := &fakeSource{}
	var emit func(paths []string)
	mon, err := monitor.New(func(onChange func(paths []string)) (monitor.Source, error) {
		emit = onChange
		return src, nil
	}, log)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}

	launcher := &fakeLauncher{
		workers:  workers,
		launchCh: make(chan *fakeWorker, len(workers)+1),
	}
	r, err := New(Config{Launcher: launcher, Monitor: mon, Interval: interval, Log: log})
	if err != nil {
		t.Fatalf("new reloader: %v", err)
	}
	return &reloaderFixture{reloader: r, launcher: launcher, source: src, emit: emit, logs: logs}
}

func waitLaunch(t *testing.T, ch chan *fakeWorker) *fakeWorker {
	t.Helper()
	select {
	case w := <-ch:
		return w
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a worker launch")
		return nil
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// syncWithLoop proves the cycle's select loop is pumping by pushing a path
// report through it and waiting for the registration to land.
func syncWithLoop(t *testing.T, fx *reloaderFixture, w *fakeWorker, token string) {
	t.Helper()
	w.paths <- token
	waitUntil(t, "path registration", func() bool { return fx.source.has(token) })
}

func TestReloaderRestartsOnChange(t *testing.T) {
	w1 := newFakeWorker(101)
	w2 := newFakeWorker(102)
	fx := newFixture(t, 20*time.Millisecond, w1, w2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- fx.reloader.Run(ctx) }()

	got := waitLaunch(t, fx.launcher.launchCh)
	if got != w1 {
		t.Fatal("unexpected first worker")
	}
	syncWithLoop(t, fx, w1, "sync-a")

	fx.emit([]string{"app.go"})

	if waitLaunch(t, fx.launcher.launchCh) != w2 {
		t.Fatal("expected second worker after change")
	}
	if !w1.Terminated() {
		t.Fatal("first worker was not terminated on change")
	}
	if !w1.wasJoined() {
		t.Fatal("first worker was not joined")
	}
	if !strings.Contains(fx.logs.String(), "killing server") {
		t.Fatalf("missing kill log:\n%s", fx.logs.String())
	}

	cancel()
	select {
	case err := <-runErr:
		if err == nil {
			t.Fatal("run returned nil after cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestReloaderWaitsForChangeAfterWorkerExit(t *testing.T) {
	w1 := newFakeWorker(201)
	w2 := newFakeWorker(202)
	fx := newFixture(t, 20*time.Millisecond, w1, w2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- fx.reloader.Run(ctx) }()

	waitLaunch(t, fx.launcher.launchCh)
	syncWithLoop(t, fx, w1, "sync-b")

	w1.exit(3)

	waitUntil(t, "wait-for-changes log", func() bool {
		return strings.Contains(fx.logs.String(), "waiting for changes before reloading")
	})
	if !strings.Contains(fx.logs.String(), "server exited") {
		t.Fatalf("missing exit log:\n%s", fx.logs.String())
	}
	if w1.Terminated() {
		t.Fatal("self-exited worker should not be marked terminated")
	}
	if n := fx.launcher.launched(); n != 1 {
		t.Fatalf("worker relaunched without a change: launches=%d", n)
	}

	fx.emit([]string{"app.go"})
	if waitLaunch(t, fx.launcher.launchCh) != w2 {
		t.Fatal("expected relaunch after change arrived")
	}

	cancel()
	<-runErr
}

func TestReloaderRestartsOnWorkerRequest(t *testing.T) {
	w1 := newFakeWorker(301)
	w2 := newFakeWorker(302)
	fx := newFixture(t, 20*time.Millisecond, w1, w2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- fx.reloader.Run(ctx) }()

	waitLaunch(t, fx.launcher.launchCh)
	w1.events <- ipc.EventReloadRequest

	if waitLaunch(t, fx.launcher.launchCh) != w2 {
		t.Fatal("expected relaunch after reload request")
	}
	if !w1.Terminated() {
		t.Fatal("requesting worker was not terminated")
	}

	cancel()
	<-runErr
}

func TestReloaderRestartsOnControlClose(t *testing.T) {
	w1 := newFakeWorker(401)
	w2 := newFakeWorker(402)
	fx := newFixture(t, 20*time.Millisecond, w1, w2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- fx.reloader.Run(ctx) }()

	waitLaunch(t, fx.launcher.launchCh)
	syncWithLoop(t, fx, w1, "sync-c")

	w1.events <- ipc.EventClosed
	close(w1.events)

	if waitLaunch(t, fx.launcher.launchCh) != w2 {
		t.Fatal("expected relaunch after control close")
	}
	if !w1.Terminated() {
		t.Fatal("worker with a closed control channel was not terminated")
	}

	cancel()
	<-runErr
}

func TestReloaderTreatsCloseOfDeadWorkerAsExit(t *testing.T) {
	w1 := newFakeWorker(411)
	w2 := newFakeWorker(412)
	fx := newFixture(t, 20*time.Millisecond, w1, w2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- fx.reloader.Run(ctx) }()

	waitLaunch(t, fx.launcher.launchCh)
	syncWithLoop(t, fx, w1, "sync-f")

	// Death closes the control channel an instant before the reap lands;
	// whichever arrives first, the cycle must end as a plain exit.
	w1.exit(0)
	w1.events <- ipc.EventClosed
	close(w1.events)

	waitUntil(t, "wait-for-changes log", func() bool {
		return strings.Contains(fx.logs.String(), "waiting for changes before reloading")
	})
	if w1.Terminated() {
		t.Fatal("dead worker should not be marked terminated")
	}
	if n := fx.launcher.launched(); n != 1 {
		t.Fatalf("close of a dead worker triggered relaunch: launches=%d", n)
	}

	fx.emit([]string{"app.go"})
	if waitLaunch(t, fx.launcher.launchCh) != w2 {
		t.Fatal("expected relaunch after change arrived")
	}

	cancel()
	<-runErr
}

func TestReloaderRestartWaitsOutSlowWorker(t *testing.T) {
	w1 := newFakeWorker(501)
	w1.stubborn = true
	w2 := newFakeWorker(502)
	fx := newFixture(t, 20*time.Millisecond, w1, w2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- fx.reloader.Run(ctx) }()

	waitLaunch(t, fx.launcher.launchCh)
	syncWithLoop(t, fx, w1, "sync-d")

	fx.emit([]string{"app.go"})
	waitUntil(t, "termination", func() bool { return w1.Terminated() })

	// The worker drains on its own schedule; the restart path waits.
	time.Sleep(150 * time.Millisecond)
	if !w1.Alive() {
		t.Fatal("draining worker did not stay alive")
	}
	if n := fx.launcher.launched(); n != 1 {
		t.Fatalf("relaunched before the old worker exited: launches=%d", n)
	}

	w1.exit(0)
	if waitLaunch(t, fx.launcher.launchCh) != w2 {
		t.Fatal("expected relaunch once the worker exited")
	}

	cancel()
	<-runErr
}

func TestReloaderShutdownLeavesStubbornWorkerTracked(t *testing.T) {
	w1 := newFakeWorker(511)
	w1.stubborn = true
	fx := newFixture(t, 20*time.Millisecond, w1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- fx.reloader.Run(ctx) }()

	waitLaunch(t, fx.launcher.launchCh)
	syncWithLoop(t, fx, w1, "sync-g")

	cancel()
	select {
	case err := <-runErr:
		if err == nil {
			t.Fatal("run returned nil after cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run blocked on a worker that ignores termination")
	}

	if !w1.Terminated() {
		t.Fatal("worker was not asked to terminate on shutdown")
	}
	if !w1.Alive() {
		t.Fatal("stubborn worker should still be alive")
	}
	if pids := fx.reloader.group.PIDs(); len(pids) != 1 || pids[0] != 511 {
		t.Fatalf("unreaped worker dropped from the group: pids=%v", pids)
	}
}

func TestReloaderForgetsReapedWorkers(t *testing.T) {
	w1 := newFakeWorker(521)
	w2 := newFakeWorker(522)
	fx := newFixture(t, 20*time.Millisecond, w1, w2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- fx.reloader.Run(ctx) }()

	waitLaunch(t, fx.launcher.launchCh)
	waitUntil(t, "group registration", func() bool {
		pids := fx.reloader.group.PIDs()
		return len(pids) == 1 && pids[0] == 521
	})
	syncWithLoop(t, fx, w1, "sync-h")

	fx.emit([]string{"app.go"})
	if waitLaunch(t, fx.launcher.launchCh) != w2 {
		t.Fatal("expected relaunch after change")
	}
	waitUntil(t, "group swap", func() bool {
		pids := fx.reloader.group.PIDs()
		return len(pids) == 1 && pids[0] == 522
	})

	cancel()
	<-runErr
}

func TestRunOnceEndsAfterSingleCycle(t *testing.T) {
	w1 := newFakeWorker(601)
	fx := newFixture(t, 20*time.Millisecond, w1)

	done := make(chan error, 1)
	go func() { done <- fx.reloader.RunOnce(context.Background()) }()

	waitLaunch(t, fx.launcher.launchCh)
	syncWithLoop(t, fx, w1, "sync-e")

	fx.emit([]string{"app.go"})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run once: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run once did not return after the cycle ended")
	}
	if !w1.Terminated() {
		t.Fatal("worker was not terminated at cycle end")
	}
	if n := fx.launcher.launched(); n != 1 {
		t.Fatalf("run once launched %d workers", n)
	}
}

func TestReloaderPropagatesLaunchFailure(t *testing.T) {
	fx := newFixture(t, 20*time.Millisecond)

	err := fx.reloader.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "launch worker") {
		t.Fatalf("expected launch failure, got %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	mon, err := monitor.New(func(onChange func(paths []string)) (monitor.Source, error) {
		return &fakeSource{}, nil
	}, nil)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}

	if _, err := New(Config{Monitor: mon}); err == nil {
		t.Fatal("expected error for missing launcher")
	}
	if _, err := New(Config{Launcher: &fakeLauncher{}}); err == nil {
		t.Fatal("expected error for missing monitor")
	}
}
