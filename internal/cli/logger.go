package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// newLogger constructs a zerolog logger from level and format settings.
// "warning" is accepted as an alias for warn.
func newLogger(level, format string, w io.Writer) (zerolog.Logger, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("log level: %w", err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.WarnLevel
	}
	var l zerolog.Logger
	switch strings.ToLower(format) {
	case "json":
		l = zerolog.New(w).With().Timestamp().Logger()
	case "", "console":
		l = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	default:
		return zerolog.Logger{}, fmt.Errorf("unsupported log format %q", format)
	}
	return l.Level(lvl), nil
}
