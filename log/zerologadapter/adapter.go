// Package zerologadapter provides a logger that writes to a github.com/rs/zerolog.
package zerologadapter

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pgduct/pgduct"
)

type Logger struct {
	logger zerolog.Logger
}

// NewLogger accepts a zerolog.Logger as input and returns a new custom pgduct
// logging facade as output.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{
		logger: logger.With().Str("module", "pgduct").Logger(),
	}
}

func (pl *Logger) Log(ctx context.Context, level pgduct.LogLevel, msg string, data map[string]any) {
	var zlevel zerolog.Level
	switch level {
	case pgduct.LogLevelNone:
		zlevel = zerolog.NoLevel
	case pgduct.LogLevelError:
		zlevel = zerolog.ErrorLevel
	case pgduct.LogLevelWarn:
		zlevel = zerolog.WarnLevel
	case pgduct.LogLevelInfo:
		zlevel = zerolog.InfoLevel
	case pgduct.LogLevelDebug:
		zlevel = zerolog.DebugLevel
	default:
		zlevel = zerolog.DebugLevel
	}

	log := pl.logger.With().Fields(data).Logger()
	log.WithLevel(zlevel).Msg(msg)
}
