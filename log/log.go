// Package log builds the process-wide zerolog logger.
package log

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger so callers can still pass the embedded logger around.
type Logger struct {
	zerolog.Logger
}

// New returns a logger at level, writing JSON to stdout or a console format when pretty is set.
// Unknown levels fall back to info.
func New(level string, pretty bool) Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl, err := ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var l zerolog.Logger
	if pretty {
		l = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.StampMicro,
		})
	} else {
		l = zerolog.New(os.Stdout)
	}

	l = l.Level(lvl).With().Timestamp().Logger()
	if err != nil {
		l.Warn().Str("level", level).Msg("Unknown log level, defaulting to info")
	}

	return Logger{Logger: l}
}

// ParseLevel accepts zerolog level names case-insensitively; empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	level = strings.TrimSpace(strings.ToLower(level))
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(level)
}
