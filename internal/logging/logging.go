// Package logging wires up rs/zerolog the way
// ws/internal/shared/monitoring/logger.go does: JSON by default, a
// human-readable console writer when LOG_FORMAT=pretty, level parsed
// from LOG_LEVEL.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds a base logger tagged with the component name.
func New(component, level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var writer = os.Stdout
	var logger zerolog.Logger
	if format == "pretty" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"})
	} else {
		logger = zerolog.New(writer)
	}

	return logger.Level(lvl).With().Timestamp().Str("component", component).Logger()
}
