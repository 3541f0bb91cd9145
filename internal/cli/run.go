package cli

import (
	stdcontext "context"
	"errors"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mrcljx/hupper/internal/agent"
	"github.com/mrcljx/hupper/internal/config"
	"github.com/mrcljx/hupper/internal/logging"
	"github.com/mrcljx/hupper/internal/metrics"
	"github.com/mrcljx/hupper/internal/monitor"
	"github.com/mrcljx/hupper/internal/supervise"
	"github.com/mrcljx/hupper/internal/watcher"
)

// Test seams.
var (
	newLauncher = func(log *slog.Logger) supervise.Launcher {
		return &supervise.ProcessLauncher{Log: log}
	}
	selectWatcher = watcher.Select
	exitProcess   = os.Exit
)

func newRunCmd(ctx *context) *cobra.Command {
	flags := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "run [flags] -- command [args...]",
		Short: "Run a command and restart it when watched files change",
		Long: `Run starts the command as a supervised worker and restarts it whenever a
watched file changes, the worker asks for a reload, or the process receives
SIGHUP. The worker inherits the real stdin descriptor, so interactive
commands keep working across restarts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, manifestPath, err := ctx.resolveConfig(cmd, flags, args)
			if err != nil {
				return err
			}
			if agent.Supervised() {
				return workerMain(cmd.Context(), cfg, manifestPath)
			}
			return superviseLoop(cmd.Context(), cfg, false)
		},
	}
	flags.register(cmd)
	return cmd
}

func newOnceCmd(ctx *context) *cobra.Command {
	flags := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "once [flags] -- command [args...]",
		Short: "Run a command under supervision for a single cycle",
		Long: `Once starts the command as a supervised worker, waits for it to exit or be
replaced, and returns. Useful for smoke-testing a reload session setup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, manifestPath, err := ctx.resolveConfig(cmd, flags, args)
			if err != nil {
				return err
			}
			if agent.Supervised() {
				return workerMain(cmd.Context(), cfg, manifestPath)
			}
			return superviseLoop(cmd.Context(), cfg, true)
		},
	}
	flags.register(cmd)
	return cmd
}

// superviseLoop is the supervisor side of run and once: it re-executes this
// binary as a worker and drives the reload loop until ctx is cancelled.
func superviseLoop(ctx stdcontext.Context, cfg *config.Config, once bool) error {
	log, logCloser, err := logging.New(logging.Options{
		Verbosity: cfg.VerbosityLevel(),
		FilePath:  cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	factory, backendName, err := selectWatcher(cfg.Backend, cfg.Interval.Duration, log)
	if err != nil {
		return err
	}
	log.Debug("file monitor backend", "backend", backendName)
	metrics.SetMonitorBackend(backendName)

	mon, err := monitor.New(factory, log)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		server := metrics.NewServer(metrics.ServerConfig{Addr: cfg.MetricsAddr})
		go func() {
			if err := server.Run(ctx); err != nil {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	exe, err := os.Executable()
	if err != nil {
		return err
	}
	rel, err := supervise.New(supervise.Config{
		Launcher: newLauncher(log),
		Monitor:  mon,
		Spec: supervise.Spec{
			Executable: exe,
			Args:       append([]string(nil), os.Args[1:]...),
		},
		Interval: cfg.Interval.Duration,
		Log:      log,
	})
	if err != nil {
		return err
	}

	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	finished := make(chan struct{})
	defer close(finished)
	go escalateOnSecondInterrupt(rel, log, interrupts, finished)

	if once {
		err = rel.RunOnce(ctx)
	} else {
		err = rel.Run(ctx)
	}
	if err != nil && !errors.Is(err, stdcontext.Canceled) {
		return err
	}
	return nil
}

// escalateOnSecondInterrupt counts interrupts delivered on a subscription
// the caller opened before the session started. The first one belongs to
// the graceful path through the command context; the second force-kills the
// worker's process group and exits.
func escalateOnSecondInterrupt(rel *supervise.Reloader, log *slog.Logger, interrupts <-chan os.Signal, finished <-chan struct{}) {
	seen := 0
	for {
		select {
		case <-interrupts:
			seen++
			if seen < 2 {
				continue
			}
			log.Warn("second interrupt; killing worker process group")
			rel.KillGroup()
			exitProcess(130)
			return
		case <-finished:
			return
		}
	}
}
