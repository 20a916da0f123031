// Package logging provides the structured file logger used by every command.
// Records land in .cdm/logs/cdm.log so a run can be inspected after the
// terminal table is gone.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/paritytech/contract-dependency-manager-sub000/internal/config"
)

// FileName is the log file created under .cdm/logs.
const FileName = "cdm.log"

// Logger wraps slog.Logger with the file it writes to.
type Logger struct {
	*slog.Logger
	file *os.File
}

// New creates (or reuses) the log file for the given project directory.
// format is "text" or "json"; level is one of debug, info, warn, error.
func New(projectDir, level, format string) (*Logger, error) {
	logDir := filepath.Join(projectDir, config.CDMDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	parsed, err := ParseLevel(level)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Logger{Logger: slog.New(newHandler(f, parsed, format)), file: f}, nil
}

// NewWriter builds a logger over an arbitrary writer.
func NewWriter(w io.Writer, level slog.Level, format string) *Logger {
	return &Logger{Logger: slog.New(newHandler(w, level, format))}
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

func newHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a config level name onto slog levels.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", level)
	}
}

// WithComponent returns a new Logger with the component field.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With("component", component), file: l.file}
}

// WithRunID returns a new Logger tagged with a pipeline run id.
func (l *Logger) WithRunID(runID string) *Logger {
	return &Logger{Logger: l.Logger.With("run_id", runID), file: l.file}
}

// WithError returns a new Logger with the error field.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{Logger: l.Logger.With("error", err.Error()), file: l.file}
}

// Path returns the log file location, or "" for writer-backed loggers.
func (l *Logger) Path() string {
	if l == nil || l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
