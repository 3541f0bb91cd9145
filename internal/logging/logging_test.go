package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVerbosityGatesLevels(t *testing.T) {
	cases := []struct {
		verbosity int
		want      slog.Level
	}{
		{-1, slog.LevelError},
		{0, slog.LevelError},
		{1, slog.LevelInfo},
		{2, slog.LevelDebug},
		{5, slog.LevelDebug},
	}
	for _, tc := range cases {
		if got := Level(tc.verbosity); got != tc.want {
			t.Fatalf("Level(%d) = %v, want %v", tc.verbosity, got, tc.want)
		}
	}
}

func TestHandlerRendersPlainLines(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(Options{Verbosity: 1, Writer: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	log.Info("monitor started", "pid", 42, "backend", "fsnotify")
	log.Debug("should be suppressed")

	out := buf.String()
	if !strings.Contains(out, "INFO monitor started pid=42 backend=fsnotify") {
		t.Fatalf("unexpected line: %q", out)
	}
	if strings.Contains(out, "suppressed") {
		t.Fatalf("debug line leaked through verbosity 1: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("color codes emitted for non-terminal writer: %q", out)
	}
}

func TestHandlerQuotesAwkwardValues(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(Options{Verbosity: 1, Writer: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	log.Info("spawned", "command", "go run ./cmd/api", "note", "")

	out := buf.String()
	if !strings.Contains(out, `command="go run ./cmd/api"`) {
		t.Fatalf("value with spaces not quoted: %q", out)
	}
	if !strings.Contains(out, `note=""`) {
		t.Fatalf("empty value not quoted: %q", out)
	}
}

func TestHandlerCarriesAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(Options{Verbosity: 2, Writer: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	log.With("pid", 7).WithGroup("worker").Info("exited", "code", 3)

	out := buf.String()
	if !strings.Contains(out, "pid=7") {
		t.Fatalf("carried attr missing: %q", out)
	}
	if !strings.Contains(out, "worker.code=3") {
		t.Fatalf("group prefix missing: %q", out)
	}
}

func TestFileTeeWritesRotatedCopy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "hupper.log")

	var buf bytes.Buffer
	log, closer, err := New(Options{Verbosity: 1, Writer: &buf, FilePath: path})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	log.Info("session started")
	if err := closer.Close(); err != nil {
		t.Fatalf("close rotated file: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read rotated file: %v", err)
	}
	if !strings.Contains(string(data), "session started") {
		t.Fatalf("rotated copy missing line: %q", string(data))
	}
	if !strings.Contains(buf.String(), "session started") {
		t.Fatalf("primary writer missing line: %q", buf.String())
	}
}

func TestRotatingWriterRejectsEmptyPath(t *testing.T) {
	if _, err := NewRotatingWriter(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
