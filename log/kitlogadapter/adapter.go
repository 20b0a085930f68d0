// Package kitlogadapter provides a logger that writes to a github.com/go-kit/log.Logger.
package kitlogadapter

import (
	"context"

	"github.com/go-kit/log"
	kitlevel "github.com/go-kit/log/level"

	"github.com/pgduct/pgduct"
)

type Logger struct {
	l log.Logger
}

func NewLogger(l log.Logger) *Logger {
	return &Logger{l: l}
}

func (l *Logger) Log(ctx context.Context, level pgduct.LogLevel, msg string, data map[string]any) {
	logger := l.l
	for k, v := range data {
		logger = log.With(logger, k, v)
	}

	switch level {
	case pgduct.LogLevelTrace:
		logger.Log("PGDUCT_LOG_LEVEL", level, "msg", msg)
	case pgduct.LogLevelDebug:
		kitlevel.Debug(logger).Log("msg", msg)
	case pgduct.LogLevelInfo:
		kitlevel.Info(logger).Log("msg", msg)
	case pgduct.LogLevelWarn:
		kitlevel.Warn(logger).Log("msg", msg)
	case pgduct.LogLevelError:
		kitlevel.Error(logger).Log("msg", msg)
	default:
		logger.Log("INVALID_PGDUCT_LOG_LEVEL", level, "error", msg)
	}
}
