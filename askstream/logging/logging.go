// Package logging builds the application's zerolog logger from configuration.
package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	internal "github.com/ZanzyTHEbar/askstream/askstream"
	"github.com/ZanzyTHEbar/askstream/askstream/config"
)

// New returns a logger writing to w. Unknown levels fall back to info.
func New(cfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := w
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("app", internal.DefaultAppName).
		Logger()
}
