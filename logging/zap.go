// Package logging adapts zap to txqueue.Logger.
package logging

import (
	"context"

	"go.uber.org/zap"

	"github.com/mickamy/txqueue"
)

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZap returns a txqueue.Logger writing through l.
func NewZap(l *zap.Logger) txqueue.Logger {
	return zapLogger{sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (z zapLogger) Info(_ context.Context, format string, v ...any) {
	z.sugar.Infof(format, v...)
}

func (z zapLogger) Warn(_ context.Context, format string, v ...any) {
	z.sugar.Warnf(format, v...)
}

func (z zapLogger) Error(_ context.Context, format string, v ...any) {
	z.sugar.Errorf(format, v...)
}

// New builds a production zap logger at level ("debug", "info", "warn", "error").
func New(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}
