// Package islandlog provides the process-wide file logger.
// Logging is off until Init is called with a path, since stdout belongs to
// the CLI and the server's access log.
package islandlog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Logger writes leveled key-value records to a file.
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	slog    *slog.Logger
	level   slog.LevelVar
	enabled bool
}

var (
	// Log is the global logger instance.
	Log     = &Logger{}
	logOnce sync.Once
)

// Init opens path for appending and enables logging. An empty path leaves
// logging disabled. When verbose is set, debug records are kept.
func Init(path string, verbose bool) error {
	if path == "" {
		return nil
	}

	var initErr error
	logOnce.Do(func() {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			initErr = err
			return
		}
		Log.attach(f, verbose)
		Log.Info("Logger initialized", "path", path)
	})
	return initErr
}

// New returns a logger writing to w. Used by tests and by callers that want
// a private sink.
func New(w io.Writer, verbose bool) *Logger {
	l := &Logger{}
	l.setup(w, verbose)
	return l
}

func (l *Logger) attach(f *os.File, verbose bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.file = f
	l.setup(f, verbose)
}

func (l *Logger) setup(w io.Writer, verbose bool) {
	if verbose {
		l.level.Set(slog.LevelDebug)
	} else {
		l.level.Set(slog.LevelInfo)
	}
	l.slog = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &l.level}))
	l.enabled = true
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = false
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Enabled returns whether logging is active.
func (l *Logger) Enabled() bool {
	return l.enabled
}

// Writer returns the underlying file for use with other logging libraries.
func (l *Logger) Writer() io.Writer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled || l.file == nil {
		return io.Discard
	}
	return l.file
}

func (l *Logger) log(level slog.Level, msg string, keyvals ...any) {
	if !l.enabled || l.slog == nil {
		return
	}
	l.slog.Log(context.Background(), level, msg, keyvals...)
}

// Debug logs a debug message with optional key-value pairs.
func (l *Logger) Debug(msg string, keyvals ...any) {
	l.log(slog.LevelDebug, msg, keyvals...)
}

// Info logs an info message with optional key-value pairs.
func (l *Logger) Info(msg string, keyvals ...any) {
	l.log(slog.LevelInfo, msg, keyvals...)
}

// Warn logs a warning message with optional key-value pairs.
func (l *Logger) Warn(msg string, keyvals ...any) {
	l.log(slog.LevelWarn, msg, keyvals...)
}

// Error logs an error message with optional key-value pairs.
func (l *Logger) Error(msg string, keyvals ...any) {
	l.log(slog.LevelError, msg, keyvals...)
}

// Timed logs the duration of an operation. Usage:
//
//	defer islandlog.Log.Timed("operation name")()
func (l *Logger) Timed(operation string, keyvals ...any) func() {
	if !l.enabled {
		return func() {}
	}
	start := time.Now()
	l.Debug(operation, append([]any{"status", "started"}, keyvals...)...)
	return func() {
		l.Debug(operation, append([]any{"status", "completed", "duration", time.Since(start)}, keyvals...)...)
	}
}
