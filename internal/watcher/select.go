package watcher

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mrcljx/hupper/internal/monitor"
)

// Backend tokens accepted in configuration.
const (
	BackendAuto    = "auto"
	BackendNotify  = "fsnotify"
	BackendPolling = "polling"
)

// Select resolves a backend token to a monitor.Factory and the name of the
// backend that will actually run. Auto prefers the native watcher and falls
// back to polling when the platform refuses one.
func Select(backend string, interval time.Duration, log *slog.Logger) (monitor.Factory, string, error) {
	switch backend {
	case "", BackendAuto:
		if notifySupported() {
			return notifyFactory(log), BackendNotify, nil
		}
		if log != nil {
			log.Debug("native watcher unavailable, falling back to polling")
		}
		return pollingFactory(interval), BackendPolling, nil
	case BackendNotify:
		return notifyFactory(log), BackendNotify, nil
	case BackendPolling, "poll":
		return pollingFactory(interval), BackendPolling, nil
	default:
		return nil, "", fmt.Errorf("unknown watch backend %q", backend)
	}
}

func notifySupported() bool {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false
	}
	w.Close()
	return true
}

func notifyFactory(log *slog.Logger) monitor.Factory {
	return func(onChange func(paths []string)) (monitor.Source, error) {
		return NewNotify(onChange, log)
	}
}

func pollingFactory(interval time.Duration) monitor.Factory {
	return func(onChange func(paths []string)) (monitor.Source, error) {
		return NewPolling(onChange, interval), nil
	}
}
