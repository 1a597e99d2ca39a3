// Package logger builds the zerolog logger shared by the relay and its tools.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup returns a JSON logger writing to stderr. In dev mode the output is
// human readable and the level drops to debug.
func Setup(dev bool) zerolog.Logger {
	return New(os.Stderr, dev)
}

// New is Setup with an explicit destination.
func New(out io.Writer, dev bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}
