package supervise

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrcljx/hupper/internal/ipc"
)

// ProcessLauncher spawns real worker processes.
type ProcessLauncher struct {
	Log *slog.Logger
}

// Launch spawns a worker from spec and completes the stdin handoff.
func (l *ProcessLauncher) Launch(spec Spec) (Handle, error) {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{
		log:     log,
		spec:    spec,
		paths:   make(chan string, 64),
		done:    make(chan struct{}),
		release: make(chan struct{}),
	}
	if err := w.start(); err != nil {
		return nil, err
	}
	return w, nil
}

// Worker owns one spawned worker process together with the control channel to
// it and the path-report pipe from it.
type Worker struct {
	log  *slog.Logger
	spec Spec

	cmd     *exec.Cmd
	control *ipc.Control
	stdinFD int
	reportR *os.File

	paths   chan string
	events  <-chan ipc.Event
	done    chan struct{}
	release chan struct{}

	terminated atomic.Bool

	mu       sync.Mutex
	exitCode int
	released bool
}

func (w *Worker) start() error {
	// Duplicate our stdin up front; the copy travels to the worker while the
	// original stays usable after the worker exits.
	stdinFD, err := ipc.Dup(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("duplicate stdin: %w", err)
	}

	sup, controlChild, err := ipc.ControlPair()
	if err != nil {
		ipc.CloseFD(stdinFD)
		return err
	}

	reportR, reportW, err := os.Pipe()
	if err != nil {
		ipc.CloseFD(stdinFD)
		sup.Close()
		controlChild.Close()
		return fmt.Errorf("create report pipe: %w", err)
	}

	cmd := exec.Command(w.spec.Executable, w.spec.Args...)
	cmd.Dir = w.spec.Dir
	env := w.spec.Env
	if env == nil {
		env = os.Environ()
	}
	// ExtraFiles land at descriptors 3 and 4 in the child, in order.
	cmd.Env = append(append([]string(nil), env...),
		fmt.Sprintf("%s=3", ipc.EnvControlFD),
		fmt.Sprintf("%s=4", ipc.EnvReportFD),
	)
	cmd.Stdout = w.spec.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = w.spec.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	// The worker's real stdin arrives over the control channel instead.
	cmd.Stdin = nil
	cmd.ExtraFiles = []*os.File{controlChild, reportW}
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		ipc.CloseFD(stdinFD)
		sup.Close()
		controlChild.Close()
		reportR.Close()
		reportW.Close()
		return fmt.Errorf("spawn worker: %w", err)
	}

	// The child holds its own copies of these now.
	controlChild.Close()
	reportW.Close()

	// Exactly one handoff per worker, immediately after the spawn. Failure
	// is fatal to the attempt; a worker without its stdin must not run.
	if err := sup.SendFD(stdinFD, cmd.Process.Pid); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		ipc.CloseFD(stdinFD)
		sup.Close()
		reportR.Close()
		return fmt.Errorf("hand off stdin: %w", err)
	}

	w.cmd = cmd
	w.control = sup
	w.stdinFD = stdinFD
	w.reportR = reportR
	w.events = sup.Events()

	go w.readPaths()
	go w.wait()
	return nil
}

func (w *Worker) readPaths() {
	scanner := bufio.NewScanner(w.reportR)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case w.paths <- line:
		case <-w.release:
			return
		}
	}
	close(w.paths)
}

func (w *Worker) wait() {
	_ = w.cmd.Wait()
	w.mu.Lock()
	w.exitCode = exitStatus(w.cmd.ProcessState)
	w.mu.Unlock()
	close(w.done)
}

// PID of the worker process.
func (w *Worker) PID() int {
	return w.cmd.Process.Pid
}

// Alive reports whether the process has not yet been reaped.
func (w *Worker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Terminated reports whether Terminate was called.
func (w *Worker) Terminated() bool {
	return w.terminated.Load()
}

// Terminate asks the worker's process group to shut down. The group signal
// also reaches children the worker spawned.
func (w *Worker) Terminate() {
	if !w.Alive() {
		return
	}
	w.terminated.Store(true)
	terminate(w.PID(), w.log)
}

// Join waits for the reap and then releases the stdin copy, the control
// endpoint and the report pipe. A zero timeout waits until ctx is done.
// Returning while the worker is alive leaves its resources held; callers
// re-check Alive and come back.
func (w *Worker) Join(ctx context.Context, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}
	select {
	case <-w.done:
		w.releaseResources()
		return nil
	case <-timeoutC:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) releaseResources() {
	w.mu.Lock()
	if w.released {
		w.mu.Unlock()
		return
	}
	w.released = true
	w.mu.Unlock()

	close(w.release)
	ipc.CloseFD(w.stdinFD)
	w.control.Close()
	w.reportR.Close()
}

// ExitCode is valid once Alive reports false.
func (w *Worker) ExitCode() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exitCode
}

// Paths streams file paths reported by the worker.
func (w *Worker) Paths() <-chan string {
	return w.paths
}

// Events surfaces the first control-channel condition.
func (w *Worker) Events() <-chan ipc.Event {
	return w.events
}

// Done closes once the process has been reaped.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}
