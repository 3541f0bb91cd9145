// Package logging builds the status logger for supervisor and worker
// processes: a plain line handler on stderr, verbosity-gated, with ANSI level
// colors on terminals and an optional rotated file copy.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Options configures New.
type Options struct {
	// Verbosity gates output: 0 errors only, 1 adds info, 2 and above adds
	// debug.
	Verbosity int
	// Writer receives log lines. Defaults to os.Stderr.
	Writer io.Writer
	// FilePath, when set, tees every line into a size-rotated file.
	FilePath string
	// NoColor disables ANSI colors even on a terminal.
	NoColor bool
}

// Level maps a verbosity count to the minimum slog level.
func Level(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return slog.LevelError
	case verbosity == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// New builds the logger. The returned closer releases the rotated file, if
// any, and is always non-nil.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	closer := io.Closer(nopCloser{})
	if opts.FilePath != "" {
		file, err := NewRotatingWriter(opts.FilePath)
		if err != nil {
			return nil, nil, err
		}
		w = io.MultiWriter(w, file)
		closer = file
	}

	h := &lineHandler{
		w:     w,
		level: Level(opts.Verbosity),
		color: !opts.NoColor && isTerminal(opts.Writer),
		mu:    &sync.Mutex{},
	}
	return slog.New(h), closer, nil
}

func isTerminal(w io.Writer) bool {
	if w == nil {
		w = os.Stderr
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// lineHandler renders records as "HH:MM:SS LEVEL message key=value ...".
// Attrs attached through With are rendered under the group path current at
// the time they were attached; record attrs use the final path.
type lineHandler struct {
	w     io.Writer
	level slog.Level
	color bool

	mu       *sync.Mutex
	prefix   string
	prebaked string
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *lineHandler) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	if !record.Time.IsZero() {
		b.WriteString(record.Time.Format("15:04:05"))
		b.WriteByte(' ')
	}
	h.writeLevel(&b, record.Level)
	b.WriteByte(' ')
	b.WriteString(record.Message)
	b.WriteString(h.prebaked)
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(&b, h.prefix, attr)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	var b strings.Builder
	for _, attr := range attrs {
		writeAttr(&b, h.prefix, attr)
	}
	clone.prebaked = h.prebaked + b.String()
	return &clone
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiGreen  = "\x1b[32m"
	ansiCyan   = "\x1b[36m"
)

func (h *lineHandler) writeLevel(b *strings.Builder, level slog.Level) {
	name := level.String()
	if !h.color {
		b.WriteString(name)
		return
	}
	var code string
	switch {
	case level >= slog.LevelError:
		code = ansiRed
	case level >= slog.LevelWarn:
		code = ansiYellow
	case level >= slog.LevelInfo:
		code = ansiGreen
	default:
		code = ansiCyan
	}
	b.WriteString(code)
	b.WriteString(name)
	b.WriteString(ansiReset)
}

func writeAttr(b *strings.Builder, prefix string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		for _, sub := range attr.Value.Group() {
			writeAttr(b, prefix+attr.Key+".", sub)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(attr.Key)
	b.WriteByte('=')
	b.WriteString(formatValue(attr.Value))
}

func formatValue(v slog.Value) string {
	s := v.Resolve().String()
	if strings.ContainsAny(s, " \t\n\"") {
		return strconv.Quote(s)
	}
	if s == "" {
		return `""`
	}
	return s
}

var _ slog.Handler = (*lineHandler)(nil)
