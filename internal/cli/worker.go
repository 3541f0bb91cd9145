package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/mrcljx/hupper/internal/agent"
	"github.com/mrcljx/hupper/internal/config"
	"github.com/mrcljx/hupper/internal/discover"
	"github.com/mrcljx/hupper/internal/logging"
)

const orphanGrace = 2 * time.Second

// workerMain is the worker side of run and once. The supervisor re-executed
// this binary with the session descriptors inherited; here we attach to it,
// spawn the target command with the handed-over stdin, keep the watch list
// reported, and exit with the target's own code.
func workerMain(ctx stdcontext.Context, cfg *config.Config, manifestPath string) error {
	code, err := runWorker(ctx, cfg, manifestPath)
	if err != nil {
		return err
	}
	exitProcess(code)
	// Reached only with an injected exit function.
	return nil
}

func runWorker(ctx stdcontext.Context, cfg *config.Config, manifestPath string) (int, error) {
	// Worker logs go to stderr only; the supervisor owns the log file.
	log, logCloser, err := logging.New(logging.Options{Verbosity: cfg.VerbosityLevel()})
	if err != nil {
		return 0, err
	}
	defer logCloser.Close()
	log = log.WithGroup("worker")

	proxy, err := agent.Bootstrap(log)
	if err != nil {
		return 0, fmt.Errorf("attach to supervisor: %w", err)
	}

	// Editing the manifest restarts the session's worker too.
	if manifestPath != "" {
		if err := proxy.WatchFiles(manifestPath); err != nil {
			log.Warn("cannot watch manifest", "path", manifestPath, "error", err)
		}
	}

	discoverCtx, stopDiscovery := stdcontext.WithCancel(ctx)
	defer stopDiscovery()
	go func() {
		err := discover.Watch(discoverCtx, proxy, discover.Options{
			Patterns:       cfg.Watch,
			Ignore:         cfg.Ignore,
			SelfExecutable: true,
			Log:            log,
		})
		if err != nil && !errors.Is(err, stdcontext.Canceled) {
			log.Warn("watch-list discovery stopped", "error", err)
		}
	}()

	target := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	target.Dir = cfg.ResolvedWorkdir
	target.Env = cfg.Environ()
	target.Stdin = proxy.Stdin()
	target.Stdout = os.Stdout
	target.Stderr = os.Stderr

	if err := target.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", cfg.Command[0], err)
	}
	log.Debug("target started", "pid", target.Process.Pid, "command", cfg.Command[0])

	waited := make(chan struct{})
	go func() {
		// A worker that outlives its supervisor is an orphan; take the
		// target down with us.
		select {
		case <-proxy.Done():
			log.Warn("supervisor went away; stopping target")
			stopTarget(target.Process, waited)
		case <-waited:
		}
	}()

	err = target.Wait()
	close(waited)
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return 0, fmt.Errorf("wait for %s: %w", cfg.Command[0], err)
		}
	}
	return forwardStatus(target.ProcessState), nil
}

// stopTarget asks the target to shut down and force-kills it if it lingers.
func stopTarget(p *os.Process, waited <-chan struct{}) {
	if err := p.Signal(syscall.SIGTERM); err != nil {
		p.Kill()
		return
	}
	select {
	case <-waited:
	case <-time.After(orphanGrace):
		p.Kill()
	}
}
