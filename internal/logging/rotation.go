package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFileMaxSizeMB = 10
	logFileMaxCount  = 5
)

// NewRotatingWriter opens a size-rotated log file, creating parent
// directories as needed. Supervision sessions can run for days, so the status
// log is capped rather than left to grow.
func NewRotatingWriter(path string) (*lumberjack.Logger, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: logFileMaxCount,
		Compress:   false,
	}, nil
}
