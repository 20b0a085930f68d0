// Package logrusadapter provides a logger that writes to a github.com/sirupsen/logrus.Logger
// log.
package logrusadapter

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/pgduct/pgduct"
)

type Logger struct {
	l logrus.FieldLogger
}

func NewLogger(l logrus.FieldLogger) *Logger {
	return &Logger{l: l}
}

func (l *Logger) Log(ctx context.Context, level pgduct.LogLevel, msg string, data map[string]any) {
	var logger logrus.FieldLogger
	if data != nil {
		logger = l.l.WithFields(data)
	} else {
		logger = l.l
	}

	switch level {
	case pgduct.LogLevelTrace:
		logger.WithField("PGDUCT_LOG_LEVEL", level).Debug(msg)
	case pgduct.LogLevelDebug:
		logger.Debug(msg)
	case pgduct.LogLevelInfo:
		logger.Info(msg)
	case pgduct.LogLevelWarn:
		logger.Warn(msg)
	case pgduct.LogLevelError:
		logger.Error(msg)
	default:
		logger.WithField("INVALID_PGDUCT_LOG_LEVEL", level).Error(msg)
	}
}
