// Package logging configures the structured logger shared by every
// component, replacing the stdlib *log.Logger the rest of this lineage
// wires by hand into each main package.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds a console-friendly zerolog.Logger at the given level
// ("debug", "info", "warn", "error"; unrecognized values fall back to info)
// tagged with a component name, mirroring the "[engine] " prefix style the
// reference CLI uses for its stdlib logger.
func New(component, level string) zerolog.Logger {
	return NewTo(os.Stdout, component, level)
}

// NewTo is New but writing to an explicit destination. CLI collaborators
// that stream NDJSON results on stdout use this to send logs to stderr
// instead, keeping the result stream parseable.
func NewTo(w io.Writer, component, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02T15:04:05"}
	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
