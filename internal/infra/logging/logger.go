// Package logging provides file-based logging for crewstate.
// It outputs logs to a global log file (.crewstate/logs/crewstate.log)
// and project-specific log files (.crewstate/logs/project-<id>.log).
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/runoshun/crewstate/internal/domain"
)

// Ensure Logger implements domain.Logger interface.
var _ domain.Logger = (*Logger)(nil)

// Logger writes leveled entries to the state directory's log files.
// Fields are ordered to minimize memory padding.
type Logger struct {
	clock        domain.Clock
	mirror       io.Writer
	globalFile   *os.File
	projectFiles map[string]*os.File
	stateDir     string
	mu           sync.Mutex
	level        slog.Level
}

// New creates a new Logger that writes to the state log directory.
// If stateDir is empty, logging is disabled (returns a no-op logger).
func New(stateDir string, level slog.Level) *Logger {
	return &Logger{
		stateDir:     stateDir,
		level:        level,
		clock:        domain.RealClock{},
		projectFiles: make(map[string]*os.File),
	}
}

// WithClock sets the clock used for timestamps.
func (l *Logger) WithClock(clock domain.Clock) *Logger {
	l.clock = clock
	return l
}

// WithMirror copies every written entry to w (e.g. stderr for --verbose).
func (l *Logger) WithMirror(w io.Writer) *Logger {
	l.mirror = w
	return l
}

// ParseLevel parses a log level string into slog.Level.
func ParseLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openLocked opens an append-only log file. Caller must hold l.mu.
func (l *Logger) openLocked(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create logs directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) //nolint:gosec // Log file readable by owner and group
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// Close closes all open log files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var lastErr error
	if l.globalFile != nil {
		if err := l.globalFile.Close(); err != nil {
			lastErr = err
		}
		l.globalFile = nil
	}
	for id, f := range l.projectFiles {
		if err := f.Close(); err != nil {
			lastErr = err
		}
		delete(l.projectFiles, id)
	}
	return lastErr
}

// formatLog formats a log entry in the specified format.
// Format: [2026-01-18 09:32:51] [INFO] [project-api] [session] message
func formatLog(t time.Time, level slog.Level, scope, category, msg string) string {
	scopeStr := "global"
	if scope != "" {
		scopeStr = "project-" + scope
	}
	return fmt.Sprintf("[%s] [%s] [%s] [%s] %s\n",
		t.Format("2006-01-02 15:04:05"),
		levelToString(level),
		scopeStr,
		category,
		msg,
	)
}

func levelToString(level slog.Level) string {
	switch level {
	case slog.LevelDebug:
		return "DEBUG"
	case slog.LevelInfo:
		return "INFO"
	case slog.LevelWarn:
		return "WARN"
	case slog.LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// log writes a log entry to appropriate files based on scope.
// An empty scope logs only to the global log; a project scope logs to both.
func (l *Logger) log(level slog.Level, scope, category, msg string) {
	if l.stateDir == "" {
		return // Logging disabled
	}
	if level < l.level {
		return
	}

	entry := formatLog(l.clock.Now(), level, scope, category, msg)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.globalFile == nil {
		if f, err := l.openLocked(domain.GlobalLogPath(l.stateDir)); err == nil {
			l.globalFile = f
		}
	}
	if l.globalFile != nil {
		_, _ = io.WriteString(l.globalFile, entry)
	}

	if scope != "" {
		f, ok := l.projectFiles[scope]
		if !ok {
			if opened, err := l.openLocked(domain.ProjectLogPath(l.stateDir, scope)); err == nil {
				f = opened
				l.projectFiles[scope] = f
			}
		}
		if f != nil {
			_, _ = io.WriteString(f, entry)
		}
	}

	if l.mirror != nil {
		_, _ = io.WriteString(l.mirror, entry)
	}
}

// Info logs an info message.
func (l *Logger) Info(scope, category, msg string) {
	l.log(slog.LevelInfo, scope, category, msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(scope, category, msg string) {
	l.log(slog.LevelDebug, scope, category, msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(scope, category, msg string) {
	l.log(slog.LevelWarn, scope, category, msg)
}

// Error logs an error message.
func (l *Logger) Error(scope, category, msg string) {
	l.log(slog.LevelError, scope, category, msg)
}
