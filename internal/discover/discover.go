// Package discover feeds a reload session's watch list from the worker side.
// It reports the worker's own executable and any files matching the
// configured patterns, and keeps polling so files that appear later are
// reported too. The supervisor restarts the worker when any reported file
// changes.
package discover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const defaultInterval = 3 * time.Second

// Sink receives newly discovered paths. The worker proxy's WatchFiles is the
// production sink.
type Sink interface {
	WatchFiles(paths ...string) error
}

// Options control a discovery run.
type Options struct {
	// Patterns are glob patterns re-scanned every Interval. Matches that
	// are directories are skipped.
	Patterns []string
	// Ignore filters matches by base name or full path.
	Ignore []string
	// Interval between scans.
	Interval time.Duration
	// SelfExecutable reports the running binary itself, so a freshly built
	// worker restarts under the new build.
	SelfExecutable bool
	Log            *slog.Logger
}

// Watch reports matching paths to sink until ctx is done or sink fails. Each
// path is reported once. When there are no patterns to re-scan it returns nil
// right after the initial report.
func Watch(ctx context.Context, sink Sink, opts Options) error {
	if sink == nil {
		return errors.New("sink is required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	for _, pattern := range append(append([]string(nil), opts.Patterns...), opts.Ignore...) {
		if _, err := filepath.Match(pattern, "probe"); err != nil {
			return fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	seen := make(map[string]struct{})

	var first []string
	if opts.SelfExecutable {
		exe, err := os.Executable()
		if err != nil {
			log.Warn("cannot resolve own executable", "error", err)
		} else {
			seen[exe] = struct{}{}
			first = append(first, exe)
		}
	}
	first = append(first, scan(opts, seen, log)...)
	if len(first) > 0 {
		if err := sink.WatchFiles(first...); err != nil {
			return fmt.Errorf("report watch list: %w", err)
		}
	}
	if len(opts.Patterns) == 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			batch := scan(opts, seen, log)
			if len(batch) == 0 {
				continue
			}
			if err := sink.WatchFiles(batch...); err != nil {
				return fmt.Errorf("report watch list: %w", err)
			}
		}
	}
}

// scan returns not-yet-seen matches and records them in seen.
func scan(opts Options, seen map[string]struct{}, log *slog.Logger) []string {
	var batch []string
	for _, pattern := range opts.Patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			log.Warn("skipping bad watch pattern", "pattern", pattern, "error", err)
			continue
		}
		for _, match := range matches {
			abs, err := filepath.Abs(match)
			if err != nil {
				continue
			}
			if _, ok := seen[abs]; ok {
				continue
			}
			if ignored(abs, opts.Ignore) {
				continue
			}
			if info, err := os.Stat(abs); err != nil || info.IsDir() {
				continue
			}
			seen[abs] = struct{}{}
			batch = append(batch, abs)
		}
	}
	sort.Strings(batch)
	return batch
}

func ignored(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, path); ok {
			return true
		}
	}
	return false
}
