package logging

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"syscall"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger adds context-aware methods to a zap logger. The context fields
// carry run, point and trace correlation ids.
type Logger struct {
	// base is handed to components that log through zap directly.
	base *zap.Logger
	// zap skips one frame so callers of the wrapper methods are reported.
	zap    *zap.Logger
	config *Config
}

// NewLogger creates a logger writing to stdout and, when enabled, to
// otelProvider. otelProvider can be nil to disable OTEL output.
func NewLogger(cfg *Config, otelProvider log.LoggerProvider) (*Logger, error) {
	return newLogger(cfg, zapcore.Lock(os.Stdout), otelProvider)
}

// NewLoggerTo is NewLogger writing to out instead of stdout. Commands whose
// stdout carries data log to stderr through it.
func NewLoggerTo(cfg *Config, out zapcore.WriteSyncer, otelProvider log.LoggerProvider) (*Logger, error) {
	return newLogger(cfg, out, otelProvider)
}

func newLogger(cfg *Config, out zapcore.WriteSyncer, otelProvider log.LoggerProvider) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	core, err := newDualCore(cfg, out, otelProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create core: %w", err)
	}

	opts := []zap.Option{zap.AddStacktrace(cfg.StacktraceLevel)}
	if cfg.Caller {
		opts = append(opts, zap.AddCaller())
	}
	base := zap.New(core, opts...)
	if len(cfg.Fields) > 0 {
		keys := slices.Sorted(maps.Keys(cfg.Fields))
		fields := make([]zap.Field, len(keys))
		for i, k := range keys {
			fields[i] = zap.String(k, cfg.Fields[k])
		}
		base = base.With(fields...)
	}
	return wrap(base, cfg), nil
}

func wrap(base *zap.Logger, cfg *Config) *Logger {
	return &Logger{base: base, zap: base.WithOptions(zap.AddCallerSkip(1)), config: cfg}
}

func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

func (l *Logger) Trace(ctx context.Context, msg string, fields ...zap.Field) {
	if l.Enabled(TraceLevel) {
		l.zap.Log(TraceLevel, msg, append(ContextFields(ctx), fields...)...)
	}
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Debug(msg, append(ContextFields(ctx), fields...)...)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Info(msg, append(ContextFields(ctx), fields...)...)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Warn(msg, append(ContextFields(ctx), fields...)...)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Error(msg, append(ContextFields(ctx), fields...)...)
}

func (l *Logger) With(fields ...zap.Field) *Logger {
	return wrap(l.base.With(fields...), l.config)
}

func (l *Logger) Named(name string) *Logger {
	return wrap(l.base.Named(name), l.config)
}

// Enabled returns true if the given level is enabled.
func (l *Logger) Enabled(level zapcore.Level) bool {
	return l.zap.Core().Enabled(level)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	err := l.base.Sync()
	if err != nil && isStdoutSyncError(err) {
		return nil
	}
	return err
}

// Underlying returns the underlying zap.Logger for components that take
// one directly.
func (l *Logger) Underlying() *zap.Logger {
	return l.base
}

// isStdoutSyncError reports the EINVAL/ENOTTY errors Linux returns when
// syncing a terminal or pipe.
func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
