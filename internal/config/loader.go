package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a reload-session manifest from the provided path.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}
	if err := validateAgainstSchema(doc); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}

	manifestDir := filepath.Dir(absPath)
	cfg.ResolvedWorkdir = resolveWorkdir(manifestDir, os.ExpandEnv(cfg.Workdir))

	var inlineEnv map[string]string
	if len(cfg.Env) > 0 {
		inlineEnv = make(map[string]string, len(cfg.Env))
		for k, v := range cfg.Env {
			inlineEnv[k] = os.ExpandEnv(v)
		}
	}

	var fileEnv map[string]string
	if cfg.EnvFromFile != "" {
		expanded := os.ExpandEnv(cfg.EnvFromFile)
		if !filepath.IsAbs(expanded) {
			expanded = filepath.Clean(filepath.Join(cfg.ResolvedWorkdir, expanded))
		}
		cfg.EnvFromFile = expanded

		fileEnv, err = loadEnvFile(expanded)
		if err != nil {
			return nil, fmt.Errorf("envFromFile: %w", err)
		}
	}

	// Inline entries win over file entries.
	var merged map[string]string
	if len(fileEnv) > 0 {
		merged = make(map[string]string, len(fileEnv))
		for k, v := range fileEnv {
			merged[k] = v
		}
	}
	if len(inlineEnv) > 0 {
		if merged == nil {
			merged = make(map[string]string, len(inlineEnv))
		}
		for k, v := range inlineEnv {
			merged[k] = v
		}
	}
	cfg.Env = merged

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return &cfg, nil
}

func resolveWorkdir(base, workdir string) string {
	if workdir == "" {
		return base
	}
	if filepath.IsAbs(workdir) {
		return filepath.Clean(workdir)
	}
	return filepath.Clean(filepath.Join(base, workdir))
}

func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	values := make(map[string]string)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if strings.HasPrefix(raw, "export ") {
			raw = strings.TrimSpace(raw[len("export "):])
		}
		sep := strings.IndexRune(raw, '=')
		if sep <= 0 {
			return nil, fmt.Errorf("load env file %q: invalid line %d", path, lineNo)
		}
		key := strings.TrimSpace(raw[:sep])
		if key == "" {
			return nil, fmt.Errorf("load env file %q: invalid key on line %d", path, lineNo)
		}
		value := strings.TrimSpace(raw[sep+1:])
		if strings.HasPrefix(value, "\"") {
			if len(value) < 2 || value[len(value)-1] != '"' {
				return nil, fmt.Errorf("load env file %q: unmatched quote on line %d", path, lineNo)
			}
			unquoted, err := strconv.Unquote(value)
			if err != nil {
				return nil, fmt.Errorf("load env file %q: parse value for %s on line %d: %w", path, key, lineNo, err)
			}
			value = unquoted
		} else if strings.HasPrefix(value, "'") {
			if len(value) < 2 || value[len(value)-1] != '\'' {
				return nil, fmt.Errorf("load env file %q: unmatched quote on line %d", path, lineNo)
			}
			value = value[1 : len(value)-1]
		} else if comment := strings.IndexRune(value, '#'); comment >= 0 {
			value = strings.TrimSpace(value[:comment])
		}
		values[key] = os.ExpandEnv(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	return values, nil
}
