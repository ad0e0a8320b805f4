// Package logging wires the engine's structured logger.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Level is a logging verbosity level recognized by New.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the logger's output encoding.
type Format string

const (
	// FormatJSON is the default, log-aggregator-friendly encoding.
	FormatJSON Format = "json"
	// FormatConsole is a human-readable encoding for local development.
	FormatConsole Format = "console"
)

// Config controls logger construction.
type Config struct {
	Level   Level
	Format  Format
	Service string // attached to every record as "service"
}

// New builds a zerolog.Logger per cfg. Unknown levels fall back to info.
func New(cfg Config) zerolog.Logger {
	var out io.Writer = os.Stdout

	var lvl zerolog.Level
	switch cfg.Level {
	case LevelDebug:
		lvl = zerolog.DebugLevel
	case LevelWarn:
		lvl = zerolog.WarnLevel
	case LevelError:
		lvl = zerolog.ErrorLevel
	default:
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if cfg.Format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	service := cfg.Service
	if service == "" {
		service = "marketfeed"
	}

	return zerolog.New(out).With().
		Timestamp().
		Str("service", service).
		Logger()
}

// WithPanic logs a recovered panic with a stack trace. Call from a deferred
// recover() in any long-running goroutine the engine spawns.
func WithPanic(log zerolog.Logger, msg string, recovered any) {
	log.Error().
		Interface("panic", recovered).
		Str("stack", string(debug.Stack())).
		Msg(msg)
}
