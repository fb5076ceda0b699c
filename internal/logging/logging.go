// Package logging builds the process root logger.
//
// The root logger is a log/slog logger. The "console" format renders the same
// records through zerolog's ConsoleWriter for humans at a terminal.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/rs/zerolog"
)

// Supported output formats.
const (
	FormatJSON    = "json"
	FormatText    = "text"
	FormatConsole = "console"
)

// ErrUnknownFormat means the log format is not one of the supported formats.
var ErrUnknownFormat = errors.New("unknown log format")

// ParseLevel maps a level name to a slog level. Unknown names mean info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger writing to out in the given format.
func New(out io.Writer, level, format string) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler

	switch format {
	case FormatJSON, "":
		handler = slog.NewJSONHandler(out, opts)
	case FormatText:
		handler = slog.NewTextHandler(out, opts)
	case FormatConsole:
		handler = newConsoleHandler(out, opts)
	default:
		return nil, errors.Wrapf(ErrUnknownFormat, "%q (expected %s, %s or %s)",
			format, FormatJSON, FormatText, FormatConsole)
	}

	return slog.New(handler), nil
}

// Logr exposes logger to libraries that log through logr, such as controller-runtime.
func Logr(logger *slog.Logger) logr.Logger {
	return logr.FromSlogHandler(logger.Handler())
}

// newConsoleHandler emits JSON records with zerolog field names into a
// ConsoleWriter, which parses and pretty-prints each line.
func newConsoleHandler(out io.Writer, opts *slog.HandlerOptions) slog.Handler {
	console := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05.000",
		NoColor:    true,
	}

	return slog.NewJSONHandler(console, &slog.HandlerOptions{
		Level: opts.Level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return attr
			}

			switch attr.Key {
			case slog.MessageKey:
				attr.Key = zerolog.MessageFieldName
			case slog.LevelKey:
				attr.Key = zerolog.LevelFieldName
				attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
			case slog.TimeKey:
				attr.Key = zerolog.TimestampFieldName
			}

			return attr
		},
	})
}
