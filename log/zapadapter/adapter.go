// Package zapadapter provides a logger that writes to a go.uber.org/zap.Logger.
package zapadapter

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pgduct/pgduct"
)

type Logger struct {
	logger *zap.Logger
}

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (pl *Logger) Log(ctx context.Context, level pgduct.LogLevel, msg string, data map[string]any) {
	fields := make([]zapcore.Field, len(data))
	i := 0
	for k, v := range data {
		fields[i] = zap.Any(k, v)
		i++
	}

	switch level {
	case pgduct.LogLevelTrace:
		pl.logger.Debug(msg, append(fields, zap.Stringer("PGDUCT_LOG_LEVEL", level))...)
	case pgduct.LogLevelDebug:
		pl.logger.Debug(msg, fields...)
	case pgduct.LogLevelInfo:
		pl.logger.Info(msg, fields...)
	case pgduct.LogLevelWarn:
		pl.logger.Warn(msg, fields...)
	case pgduct.LogLevelError:
		pl.logger.Error(msg, fields...)
	default:
		pl.logger.Error(msg, append(fields, zap.Stringer("INVALID_PGDUCT_LOG_LEVEL", level))...)
	}
}
