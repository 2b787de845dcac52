// Package logging configures log/slog for the whole application: a text
// handler on the console and a JSON handler on weekly rotating files.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Options configures InitLogger
type Options struct {
	Dir            string // empty disables file logging
	Prefix         string
	Level          string
	RetentionWeeks int
	MaxFileSize    int64
}

type LoggingService struct {
	Logger *slog.Logger
	file   *RotatingLogger
}

var DefaultLoggingService *LoggingService

// ParseLevel maps a config level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a logger from opts. The returned RotatingLogger is nil when
// file logging is disabled or the log directory is unusable.
func NewLogger(opts Options) (*slog.Logger, *RotatingLogger) {
	level := ParseLevel(opts.Level)
	console := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})

	if opts.Dir == "" {
		return slog.New(console), nil
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		logger := slog.New(console)
		logger.Error("Failed to create logs directory, logging to console only", "dir", opts.Dir, "error", err)
		return logger, nil
	}

	retention := opts.RetentionWeeks
	if retention <= 0 {
		retention = 4
	}
	rotating := NewRotatingLogger(opts.Dir, opts.Prefix, retention, opts.MaxFileSize)
	rotating.startCleanup()

	file := slog.NewJSONHandler(rotating, &slog.HandlerOptions{Level: level})
	return slog.New(&multiHandler{handlers: []slog.Handler{console, file}}), rotating
}

// InitLogger initializes the global logger instance and sets it as slog default
func InitLogger(opts Options) {
	if DefaultLoggingService != nil && DefaultLoggingService.file != nil {
		_ = DefaultLoggingService.file.Close()
	}
	logger, file := NewLogger(opts)
	DefaultLoggingService = &LoggingService{Logger: logger, file: file}
	slog.SetDefault(logger)
}

// Close flushes and closes the log file, if any
func Close() error {
	if DefaultLoggingService == nil || DefaultLoggingService.file == nil {
		return nil
	}
	err := DefaultLoggingService.file.Close()
	DefaultLoggingService.file = nil
	return err
}

// DefaultLogger returns the configured logger, falling back to a debug
// level stderr logger before InitLogger has run
func DefaultLogger() *slog.Logger {
	return logger()
}

func logger() *slog.Logger {
	if DefaultLoggingService == nil || DefaultLoggingService.Logger == nil {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return DefaultLoggingService.Logger
}

// Package-level functions for direct access

func Info(msg string, args ...any) {
	logger().Info(msg, args...)
}

func Error(msg string, args ...any) {
	logger().Error(msg, args...)
}

func Warn(msg string, args ...any) {
	logger().Warn(msg, args...)
}

func Debug(msg string, args ...any) {
	logger().Debug(msg, args...)
}

// multiHandler fans records out to several handlers
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
