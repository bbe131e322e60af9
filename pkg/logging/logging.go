// Package logging configures the zerolog logger shared by the gateway
// client and its tooling. Library code never logs through a global; the
// logger built here is handed to NewClient explicitly.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Format selects the output encoding.
type Format string

const (
	// FormatJSON is one JSON object per line, for log shippers.
	FormatJSON Format = "json"
	// FormatConsole is colorized human-readable output.
	FormatConsole Format = "console"
)

// Config controls logger construction.
type Config struct {
	// Level is one of trace, debug, info, warn, error. Defaults to info.
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	// Format defaults to json.
	Format Format `yaml:"format" validate:"omitempty,oneof=json console"`
	// Output defaults to stderr so JSON-RPC stdio traffic stays clean.
	Output io.Writer `yaml:"-"`
}

// New builds a logger with a timestamp and the component field set.
func New(config Config, component string) zerolog.Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	if config.Format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(config.Level)); err == nil && config.Level != "" {
		level = parsed
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
