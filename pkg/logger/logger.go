package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu      sync.Mutex
	base    *zap.Logger
	sugared *zap.SugaredLogger
)

// Options controls how the global logger is built.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Path is an optional log file. Empty logs to stderr only.
	Path string
	// Console enables human-readable output instead of JSON.
	Console bool
}

// Init initializes the global logger. Safe to call more than once; the
// previous logger is flushed and replaced.
func Init(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.Set(opts.Level); err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	if opts.Path != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, opts.Path)
	}
	if opts.Console {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	if base != nil {
		_ = base.Sync()
	}
	base = l
	// The printf wrappers below add one call frame.
	sugared = l.WithOptions(zap.AddCallerSkip(1)).Sugar()

	return nil
}

// Close flushes any buffered log entries.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if base != nil {
		_ = base.Sync()
	}
}

// L returns the global structured logger. Components that want field-based
// logging should take an injected *zap.Logger instead of calling this.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if base == nil {
		return zap.NewNop()
	}
	return base
}

// S returns the global sugared logger.
func S() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()

	if sugared == nil {
		return zap.NewNop().Sugar()
	}
	return sugared
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	S().Infof(format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	S().Debugf(format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	S().Errorf(format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	S().Warnf(format, v...)
}
