package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigLintSuccess(t *testing.T) {
	manifest := sessionManifest(
		"version: \"1\"",
		"command: [\"./server\", \"--port\", \"8080\"]",
		"watch:",
		"  - \"*.py\"",
	)
	stdout, stderr, path, err := runConfigLint(t, "lint", manifest)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	want := fmt.Sprintf("%s: OK\n", path)
	if stdout != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout, want)
	}
	if stderr != "" {
		t.Fatalf("unexpected stderr output: %q", stderr)
	}
}

func TestConfigLintSchemaViolation(t *testing.T) {
	manifest := sessionManifest(
		"version: \"1\"",
		"command: \"./server\"",
	)
	stdout, stderr, _, err := runConfigLint(t, "lint", manifest)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if stdout != "" {
		t.Fatalf("expected empty stdout, got %q", stdout)
	}
	if !strings.Contains(stderr, "schema validation failed") {
		t.Fatalf("stderr does not mention schema failure: %q", stderr)
	}
	if !strings.Contains(stderr, "command") {
		t.Fatalf("stderr does not mention command path: %q", stderr)
	}
}

func TestConfigLintMissingCommand(t *testing.T) {
	manifest := sessionManifest(
		"version: \"1\"",
		"watch:",
		"  - \"*.py\"",
	)
	stdout, stderr, path, err := runConfigLint(t, "lint", manifest)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if stdout != "" {
		t.Fatalf("expected empty stdout, got %q", stdout)
	}
	if !strings.Contains(stderr, filepath.Base(path)) {
		t.Fatalf("stderr does not mention manifest path: %q", stderr)
	}
	if !strings.Contains(stderr, "command") {
		t.Fatalf("stderr does not mention missing command: %q", stderr)
	}
}

func TestConfigValidateAlias(t *testing.T) {
	manifest := sessionManifest(
		"version: \"1\"",
		"command: [\"./server\"]",
	)
	stdout, _, path, err := runConfigLint(t, "validate", manifest)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	want := fmt.Sprintf("%s: OK\n", path)
	if stdout != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout, want)
	}
}

func runConfigLint(t *testing.T, sub, manifest string) (stdout, stderr, path string, err error) {
	t.Helper()
	dir := t.TempDir()
	path = filepath.Join(dir, "hupper.yaml")
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	cmd := NewRootCmd()
	outBuf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{"config", sub, "--file", path})

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), path, err
}

func sessionManifest(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}
