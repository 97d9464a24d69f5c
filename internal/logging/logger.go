package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger wraps slog for structured logging.
type Logger struct {
	logger *slog.Logger
}

// Config configures the root logger.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output io.Writer
}

// New creates a structured logger.
func New(config Config) *Logger {
	level := slog.LevelInfo
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	output := config.Output
	if output == nil {
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(config.Format) == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{logger: slog.New(handler)}
}

var (
	rootLogger *Logger
	rootMu     sync.RWMutex
)

// SetDefault installs the process-wide root logger used by component loggers.
func SetDefault(logger *Logger) {
	rootMu.Lock()
	defer rootMu.Unlock()
	rootLogger = logger
}

// Default returns the process-wide root logger, creating a text/info logger
// on first use.
func Default() *Logger {
	rootMu.RLock()
	l := rootLogger
	rootMu.RUnlock()
	if l != nil {
		return l
	}
	rootMu.Lock()
	defer rootMu.Unlock()
	if rootLogger == nil {
		rootLogger = New(Config{})
	}
	return rootLogger
}

// NewComponentLogger returns the root logger scoped to a component.
func NewComponentLogger(component string) *Logger {
	return Default().With("component", component)
}

// Nop returns a logger that discards all output.
func Nop() *Logger {
	return &Logger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger *Logger) *Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

// With adds fields to the logger.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...)}
}

// WithContext attaches request and session identifiers from ctx, if present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var args []any
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	if sessionID := SessionIDFromContext(ctx); sessionID != "" {
		args = append(args, "session_id", sessionID)
	}
	if len(args) == 0 {
		return l
	}
	return &Logger{logger: l.logger.With(args...)}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// DebugContext logs at debug level with context fields.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Debug(msg, args...)
}

// InfoContext logs at info level with context fields.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Info(msg, args...)
}

// WarnContext logs at warn level with context fields.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Warn(msg, args...)
}

// ErrorContext logs at error level with context fields.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Error(msg, args...)
}
