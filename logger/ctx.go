package logger

import (
	"context"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
)

func FromCtx(ctx context.Context) Logger {
	return logger.FromCtx(ctx)
}

func CtxWithLogger(ctx context.Context, l Logger) context.Context {
	return logger.CtxWithLogger(ctx, l)
}

// CtxWithLogrus builds a logrus-backed logger of the given level, makes it
// the default one and puts it into the context.
func CtxWithLogrus(ctx context.Context, level Level) context.Context {
	l := logrus.Default().WithLevel(level)
	SetDefault(func() Logger { return l })
	return CtxWithLogger(ctx, l)
}

// IsTraceEnabled returns true if the logger in the context would emit
// Trace-level messages (requires the debug_trace build tag).
func IsTraceEnabled(ctx context.Context) bool {
	return traceEnabled && FromCtx(ctx).Level() >= LevelTrace
}
