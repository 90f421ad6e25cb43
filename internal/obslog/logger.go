// Package obslog provides structured logging for the epistemic core.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with the same thin, chainable surface used
// across this codebase: With/Info/Warn/Error/Debug plus field helpers.
type Logger struct {
	logger zerolog.Logger
}

// Config controls logger construction.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text" (console)
}

// New creates a new logger based on the configuration, writing to stdout.
func New(cfg Config) *Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter creates a new logger writing to an arbitrary destination,
// used by tests that capture output.
func NewWithWriter(cfg Config, w io.Writer) *Logger {
	level := parseLevel(cfg.Level)

	var out io.Writer = w
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &Logger{logger: zl}
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(kv ...any) *Logger {
	ctx := l.logger.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, kv[i+1])
	}
	return &Logger{logger: ctx.Logger()}
}

// Debug logs a debug message with optional key/value pairs.
func (l *Logger) Debug(msg string, kv ...any) { l.event(l.logger.Debug(), msg, kv...) }

// Info logs an info message with optional key/value pairs.
func (l *Logger) Info(msg string, kv ...any) { l.event(l.logger.Info(), msg, kv...) }

// Warn logs a warning message with optional key/value pairs.
func (l *Logger) Warn(msg string, kv ...any) { l.event(l.logger.Warn(), msg, kv...) }

// Error logs an error message with optional key/value pairs. If the first
// kv pair is ("error", err), it is attached via Err for stack-aware sinks.
func (l *Logger) Error(msg string, kv ...any) { l.event(l.logger.Error(), msg, kv...) }

func (l *Logger) event(ev *zerolog.Event, msg string, kv ...any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if key == "error" {
			if err, ok := kv[i+1].(error); ok {
				ev = ev.Err(err)
				continue
			}
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Nop returns a logger that discards all output, used as a safe default
// and in tests that don't care about log content.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}
