package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// ZapLogger wraps a *zap.Logger for runtime logging. This is the default
// production Logger: every runtime component falls back to NewNoopLogger
// when none is supplied, but callers wanting real output construct one of
// these around their application's zap logger.
type ZapLogger struct {
	inner *zap.Logger
}

// NewZapLogger constructs a Logger that delegates to the given zap logger.
// A nil logger is replaced with zap.NewNop().
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return ZapLogger{inner: l}
}

func (z ZapLogger) Debug(_ context.Context, msg string, keyvals ...any) {
	z.inner.Sugar().Debugw(msg, keyvals...)
}

func (z ZapLogger) Info(_ context.Context, msg string, keyvals ...any) {
	z.inner.Sugar().Infow(msg, keyvals...)
}

func (z ZapLogger) Warn(_ context.Context, msg string, keyvals ...any) {
	z.inner.Sugar().Warnw(msg, keyvals...)
}

func (z ZapLogger) Error(_ context.Context, msg string, keyvals ...any) {
	z.inner.Sugar().Errorw(msg, keyvals...)
}
