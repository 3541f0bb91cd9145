package supervise

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mrcljx/hupper/internal/ipc"
	"github.com/mrcljx/hupper/internal/metrics"
	"github.com/mrcljx/hupper/internal/monitor"
)

// defaultInterval paces change polling and restart debouncing.
const defaultInterval = time.Second

// Config assembles a Reloader.
type Config struct {
	Launcher Launcher
	Monitor  *monitor.Monitor
	Spec     Spec
	Interval time.Duration
	Log      *slog.Logger
}

// Reloader drives the supervision loop: run a worker, watch the change
// signal, replace the worker, repeat.
type Reloader struct {
	launcher Launcher
	monitor  *monitor.Monitor
	spec     Spec
	interval time.Duration
	log      *slog.Logger
	group    *ipc.Group

	mu      sync.Mutex
	current Handle
}

// New validates cfg and builds a Reloader.
func New(cfg Config) (*Reloader, error) {
	if cfg.Launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if cfg.Monitor == nil {
		return nil, fmt.Errorf("monitor is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Reloader{
		launcher: cfg.Launcher,
		monitor:  cfg.Monitor,
		spec:     cfg.Spec,
		interval: interval,
		log:      log,
		group:    ipc.NewGroup(),
	}, nil
}

// KillGroup tears down every child process group spawned in this session.
// Reserved for abnormal shutdown, typically a second interrupt.
func (r *Reloader) KillGroup() {
	r.group.Kill(r.log)
}

// Run executes the reload loop until ctx is cancelled and reports why it
// stopped. Every return is abnormal from the session's point of view;
// callers exit non-zero.
func (r *Reloader) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	stopSignals := r.watchReloadSignal(ctx)
	defer stopSignals()

	if err := r.monitor.Start(); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}
	defer r.monitor.Close()

	for {
		start := time.Now()
		forced, err := r.runWorker(ctx)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !forced {
			if err := r.waitForChanges(ctx); err != nil {
				return err
			}
		}
		// Debounce: pace restarts so a worker that dies instantly cannot
		// spin the loop.
		if err := sleepContext(ctx, r.interval-time.Since(start)); err != nil {
			return err
		}
	}
}

// RunOnce executes exactly one worker cycle and returns when it ends,
// whether through a change, a reload request or the worker exiting.
func (r *Reloader) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	stopSignals := r.watchReloadSignal(ctx)
	defer stopSignals()

	if err := r.monitor.Start(); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}
	defer r.monitor.Close()

	_, err := r.runWorker(ctx)
	return err
}

// runWorker executes one supervision cycle. The returned flag reports
// whether the supervisor forced the restart (change, reload request,
// reload signal or a closed control channel) rather than the worker
// dying on its own.
func (r *Reloader) runWorker(ctx context.Context) (bool, error) {
	worker, err := r.launcher.Launch(r.spec)
	if err != nil {
		return false, fmt.Errorf("launch worker: %w", err)
	}
	cycleStart := time.Now()
	r.group.AddChild(worker.PID())
	r.setCurrent(worker)
	defer r.clearCurrent()
	metrics.SetWorkerUp(true)

	r.log.Info("starting monitor", "pid", worker.PID())
	r.monitor.ClearChanges()

	paths := worker.Paths()
	events := worker.Events()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	reason := ""
loop:
	for {
		if r.monitor.IsChanged() {
			reason = metrics.ReasonChange
			break
		}
		select {
		case path, ok := <-paths:
			if !ok {
				paths = nil
				continue
			}
			if err := r.monitor.AddPath(path); err != nil {
				r.log.Warn("watch reported path", "path", path, "error", err)
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev {
			case ipc.EventReloadRequest:
				reason = metrics.ReasonRequest
				break loop
			case ipc.EventClosed:
				// End of stream counts as a restart request: a worker
				// that dropped its control end is replaced, not left
				// running unobserved.
				reason = metrics.ReasonRequest
				break loop
			}
		case <-worker.Done():
			break loop
		case <-ticker.C:
		case <-ctx.Done():
			break loop
		}
	}

	if worker.Alive() {
		r.log.Info("killing server", "pid", worker.PID())
		worker.Terminate()
		// The wait is unbounded; only ctx ending the session unblocks it.
		// A worker that survives that stays in the group for KillGroup.
		_ = worker.Join(ctx, 0)
	} else {
		_ = worker.Join(context.Background(), 0)
		r.log.Info("server exited", "pid", worker.PID(), "code", worker.ExitCode())
	}
	reaped := !worker.Alive()
	if reaped {
		r.group.Forget(worker.PID())
	}

	metrics.SetWorkerUp(false)
	if reaped {
		metrics.IncrementWorkerExit(exitOutcome(worker.ExitCode()))
	}
	metrics.ObserveCycleDuration(time.Since(cycleStart))
	metrics.AddChangedPaths(len(r.monitor.Changed()))

	r.monitor.ClearChanges()

	forced := worker.Terminated()
	if ctx.Err() == nil {
		switch {
		case forced && reason != "":
			metrics.IncrementRestart(reason)
		case forced:
			metrics.IncrementRestart(metrics.ReasonSignal)
		default:
			metrics.IncrementRestart(metrics.ReasonExit)
		}
	}
	return forced, nil
}

// waitForChanges blocks until the change signal raises, then clears it so
// the next cycle starts fresh.
func (r *Reloader) waitForChanges(ctx context.Context) error {
	r.log.Info("waiting for changes before reloading")
	for !r.monitor.WaitForChange(ctx, r.interval) {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	metrics.AddChangedPaths(len(r.monitor.Changed()))
	r.monitor.ClearChanges()
	return nil
}

func (r *Reloader) setCurrent(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = h
}

func (r *Reloader) clearCurrent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = nil
}

// terminateCurrent ends the active worker, if any. The loop observes the
// death as a forced restart.
func (r *Reloader) terminateCurrent() {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()
	if cur != nil && cur.Alive() {
		cur.Terminate()
	}
}

func exitOutcome(code int) string {
	switch {
	case code == 0:
		return metrics.OutcomeClean
	case code < 0:
		return metrics.OutcomeSignal
	default:
		return metrics.OutcomeError
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
