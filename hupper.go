// Package hupper restarts a program's process whenever its files change,
// during development. The program calls Start early in main: in the first
// process Start becomes the supervisor and never returns, re-executing the
// program as a monitored worker child; in the worker process Start attaches
// to the supervisor and returns a Proxy the program uses to register watched
// files or request its own restart. The supervisor hands the real stdin
// descriptor to each worker, so interactive tools keep working across
// restarts.
package hupper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrcljx/hupper/internal/agent"
	"github.com/mrcljx/hupper/internal/discover"
	"github.com/mrcljx/hupper/internal/logging"
	"github.com/mrcljx/hupper/internal/metrics"
	"github.com/mrcljx/hupper/internal/monitor"
	"github.com/mrcljx/hupper/internal/supervise"
	"github.com/mrcljx/hupper/internal/watcher"
)

// Proxy is a worker's handle on its supervisor.
type Proxy = agent.Proxy

// ErrNotSupervised reports that the calling process has no supervisor.
var ErrNotSupervised = agent.ErrNotSupervised

// Active reports whether the calling process runs as a supervised worker.
func Active() bool { return agent.Supervised() }

// Current returns the proxy installed by Start. It returns ErrNotSupervised
// in a process without a supervisor, or before Start ran in a worker.
func Current() (*Proxy, error) {
	if p := agent.Current(); p != nil {
		return p, nil
	}
	return nil, ErrNotSupervised
}

// WatchFiles registers paths with the current supervisor. It returns
// ErrNotSupervised when the process has none.
func WatchFiles(paths ...string) error {
	p, err := Current()
	if err != nil {
		return err
	}
	return p.WatchFiles(paths...)
}

// TriggerReload asks the current supervisor for a restart. It returns
// ErrNotSupervised when the process has none.
func TriggerReload() error {
	p, err := Current()
	if err != nil {
		return err
	}
	return p.TriggerReload()
}

type options struct {
	interval    time.Duration
	verbosity   int
	logger      *slog.Logger
	backend     string
	factory     monitor.Factory
	watch       []string
	ignore      []string
	logFile     string
	metricsAddr string

	// test seams
	launcher supervise.Launcher
	exit     func(code int)
	ctx      context.Context
	logDest  io.Writer
}

// Option adjusts Start's behaviour.
type Option func(*options)

// WithInterval sets the debounce interval between worker restarts and the
// sweep interval of the polling backend.
func WithInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// WithVerbosity sets log verbosity: 0 errors only, 1 informational, 2 debug.
func WithVerbosity(v int) Option {
	return func(o *options) { o.verbosity = v }
}

// WithLogger supplies a logger and overrides the built-in log setup.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithBackend picks the change-detection backend: "auto", "fsnotify" or
// "polling".
func WithBackend(name string) Option {
	return func(o *options) { o.backend = name }
}

// WithMonitorFactory substitutes the change source; it overrides WithBackend.
func WithMonitorFactory(f monitor.Factory) Option {
	return func(o *options) { o.factory = f }
}

// WithWatch adds glob patterns the worker reports for watching, alongside
// whatever the program registers through WatchFiles.
func WithWatch(patterns ...string) Option {
	return func(o *options) { o.watch = append(o.watch, patterns...) }
}

// WithIgnore filters watched patterns by base name or full path.
func WithIgnore(patterns ...string) Option {
	return func(o *options) { o.ignore = append(o.ignore, patterns...) }
}

// WithLogFile tees supervisor logs into a rotated file.
func WithLogFile(path string) Option {
	return func(o *options) { o.logFile = path }
}

// WithMetricsAddr serves Prometheus metrics on addr while the supervisor
// runs.
func WithMetricsAddr(addr string) Option {
	return func(o *options) { o.metricsAddr = addr }
}

func withLauncher(l supervise.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

func withExit(fn func(code int)) Option {
	return func(o *options) { o.exit = fn }
}

func withContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

func withLogDestination(w io.Writer) Option {
	return func(o *options) { o.logDest = w }
}

// Start begins or joins a reload session.
//
// In an unsupervised process Start takes over: it re-executes the program as
// a worker child, restarts it whenever a watched file changes, and exits the
// process when the reload loop ends. It does not return.
//
// In a worker process Start attaches to the supervisor, installs the
// handed-over stdin descriptor as os.Stdin, begins reporting files matching
// the configured watch patterns, and returns the session proxy.
func Start(opts ...Option) (*Proxy, error) {
	o := &options{
		interval:  time.Second,
		verbosity: 1,
		backend:   watcher.BackendAuto,
		exit:      os.Exit,
	}
	for _, opt := range opts {
		opt(o)
	}

	if agent.Supervised() {
		return startWorker(o)
	}
	return nil, runSupervisor(o)
}

func startWorker(o *options) (*Proxy, error) {
	log := o.logger
	if log == nil {
		log = slog.Default()
	}
	proxy, err := agent.Bootstrap(log)
	if err != nil {
		return nil, err
	}

	// Report the watch list in the background until the supervisor goes
	// away. The binary itself is always watched, so a rebuilt worker
	// restarts under the new build.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-proxy.Done()
		cancel()
	}()
	go func() {
		defer cancel()
		err := discover.Watch(ctx, proxy, discover.Options{
			Patterns:       append([]string(nil), o.watch...),
			Ignore:         append([]string(nil), o.ignore...),
			SelfExecutable: true,
			Log:            log,
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("watch-list discovery stopped", "error", err)
		}
	}()
	return proxy, nil
}

func runSupervisor(o *options) error {
	log := o.logger
	var logCloser io.Closer = io.NopCloser(nil)
	if log == nil {
		var err error
		log, logCloser, err = logging.New(logging.Options{
			Verbosity: o.verbosity,
			Writer:    o.logDest,
			FilePath:  o.logFile,
		})
		if err != nil {
			return err
		}
	}
	defer logCloser.Close()

	ctx := o.ctx
	if ctx == nil {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	factory := o.factory
	if factory == nil {
		selected, name, err := watcher.Select(o.backend, o.interval, log)
		if err != nil {
			return err
		}
		log.Debug("file monitor backend", "backend", name)
		metrics.SetMonitorBackend(name)
		factory = selected
	}
	mon, err := monitor.New(factory, log)
	if err != nil {
		return err
	}

	if o.metricsAddr != "" {
		server := metrics.NewServer(metrics.ServerConfig{Addr: o.metricsAddr})
		go func() {
			if err := server.Run(ctx); err != nil {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	launcher := o.launcher
	if launcher == nil {
		launcher = &supervise.ProcessLauncher{Log: log}
	}

	exe, err := os.Executable()
	if err != nil {
		return err
	}
	rel, err := supervise.New(supervise.Config{
		Launcher: launcher,
		Monitor:  mon,
		Spec: supervise.Spec{
			Executable: exe,
			Args:       append([]string(nil), os.Args[1:]...),
		},
		Interval: o.interval,
		Log:      log,
	})
	if err != nil {
		return err
	}

	if err := rel.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("reload loop ended", "error", err)
	}
	o.exit(1)
	// Reached only with an injected exit function.
	return nil
}
