package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const defaultInterval = time.Second

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Config mirrors the hupper.yaml document structure.
type Config struct {
	Version     string            `yaml:"version"`
	Command     []string          `yaml:"command"`
	Workdir     string            `yaml:"workdir"`
	Env         map[string]string `yaml:"env"`
	EnvFromFile string            `yaml:"envFromFile"`
	Watch       []string          `yaml:"watch"`
	Ignore      []string          `yaml:"ignore"`
	Interval    Duration          `yaml:"interval"`
	Backend     string            `yaml:"backend"`
	Verbosity   *int              `yaml:"verbosity"`
	LogFile     string            `yaml:"logFile"`
	MetricsAddr string            `yaml:"metricsAddr"`

	// ResolvedWorkdir is Workdir resolved against the manifest directory.
	ResolvedWorkdir string `yaml:"-"`
}

// ApplyDefaults fills in unset fields.
func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "1"
	}
	if !c.Interval.IsSet() {
		c.Interval = Duration{Duration: defaultInterval}
	}
	if c.Backend == "" {
		c.Backend = "auto"
	}
	if c.Verbosity == nil {
		v := 1
		c.Verbosity = &v
	}
}

// Validate checks the document beyond what the schema can express.
func (c *Config) Validate() error {
	if c.Version != "1" {
		return fmt.Errorf("version: unsupported value %q", c.Version)
	}
	if len(c.Command) == 0 {
		return fmt.Errorf("command: at least one argument is required")
	}
	if strings.TrimSpace(c.Command[0]) == "" {
		return fmt.Errorf("command[0]: executable must not be blank")
	}
	if c.Interval.Duration <= 0 {
		return fmt.Errorf("interval: must be positive, got %s", c.Interval.Duration)
	}
	switch c.Backend {
	case "auto", "fsnotify", "polling", "poll":
	default:
		return fmt.Errorf("backend: unsupported value %q", c.Backend)
	}
	if c.Verbosity != nil && *c.Verbosity < 0 {
		return fmt.Errorf("verbosity: must not be negative")
	}
	for _, field := range []struct {
		name     string
		patterns []string
	}{
		{"watch", c.Watch},
		{"ignore", c.Ignore},
	} {
		for i, pattern := range field.patterns {
			if strings.TrimSpace(pattern) == "" {
				return fmt.Errorf("%s[%d]: pattern must not be blank", field.name, i)
			}
			if _, err := filepath.Match(pattern, "probe"); err != nil {
				return fmt.Errorf("%s[%d]: invalid pattern %q: %w", field.name, i, pattern, err)
			}
		}
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return fmt.Errorf("metricsAddr: %w", err)
		}
	}
	return nil
}

// VerbosityLevel returns the effective verbosity.
func (c *Config) VerbosityLevel() int {
	if c.Verbosity == nil {
		return 1
	}
	return *c.Verbosity
}

// Environ builds the worker environment: the parent environment with the
// manifest's merged overrides appended in sorted order, so overrides win.
func (c *Config) Environ() []string {
	env := os.Environ()
	if len(c.Env) == 0 {
		return env
	}
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+c.Env[k])
	}
	return env
}
