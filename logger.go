package txqueue

import "context"

// Logger captures queue logs; implementors can wrap slog/zap/etc.
type Logger interface {
	Info(ctx context.Context, format string, v ...any)
	Warn(ctx context.Context, format string, v ...any)
	Error(ctx context.Context, format string, v ...any)
}

// noopLogger discards all queue logs.
type noopLogger struct{}

// Info implements Logger.
func (noopLogger) Info(context.Context, string, ...any) {}

// Warn implements Logger.
func (noopLogger) Warn(context.Context, string, ...any) {}

// Error implements Logger.
func (noopLogger) Error(context.Context, string, ...any) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return noopLogger{}
}
