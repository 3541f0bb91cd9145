package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Restart reasons.
const (
	ReasonChange  = "change"
	ReasonRequest = "request"
	ReasonExit    = "exit"
	ReasonSignal  = "signal"
)

// Worker exit outcomes.
const (
	OutcomeClean  = "clean"
	OutcomeError  = "error"
	OutcomeSignal = "signal"
)

var (
	registry = prometheus.NewRegistry()

	restarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hupper",
		Name:      "restarts_total",
		Help:      "Total worker restarts by trigger reason.",
	}, []string{"reason"})

	workerUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hupper",
		Name:      "worker_up",
		Help:      "Whether a worker process is currently running (1=yes, 0=no).",
	})

	workerExits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hupper",
		Name:      "worker_exits_total",
		Help:      "Total worker exits by outcome.",
	}, []string{"outcome"})

	changedPaths = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hupper",
		Name:      "changed_paths_total",
		Help:      "Total distinct changed paths observed across reload cycles.",
	})

	cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hupper",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of supervision cycles from worker spawn to reap.",
	})

	monitorBackend = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hupper",
		Name:      "monitor_backend",
		Help:      "Change-detection backend in use (1 for the active backend).",
	}, []string{"backend"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hupper",
		Name:      "build_info",
		Help:      "Build metadata for the running hupper binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(restarts, workerUp, workerExits, changedPaths, cycleDuration, monitorBackend, buildInfo)
}

// Registry returns the Prometheus registry containing all hupper metrics.
func Registry() *prometheus.Registry {
	return registry
}

// IncrementRestart counts one restart for the given trigger reason.
func IncrementRestart(reason string) {
	if reason == "" {
		return
	}
	restarts.WithLabelValues(reason).Inc()
}

// SetWorkerUp records whether a worker process is currently running.
func SetWorkerUp(up bool) {
	value := 0.0
	if up {
		value = 1.0
	}
	workerUp.Set(value)
}

// IncrementWorkerExit counts one worker exit with the given outcome.
func IncrementWorkerExit(outcome string) {
	if outcome == "" {
		return
	}
	workerExits.WithLabelValues(outcome).Inc()
}

// AddChangedPaths counts distinct changed paths observed in a cycle.
func AddChangedPaths(n int) {
	if n <= 0 {
		return
	}
	changedPaths.Add(float64(n))
}

// ObserveCycleDuration records how long a supervision cycle ran.
func ObserveCycleDuration(d time.Duration) {
	if d < 0 {
		return
	}
	cycleDuration.Observe(d.Seconds())
}

// SetMonitorBackend marks the selected change-detection backend.
func SetMonitorBackend(backend string) {
	if backend == "" {
		return
	}
	monitorBackend.WithLabelValues(backend).Set(1)
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
