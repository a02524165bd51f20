package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Combine-Capital/drugfacts/pkg/config"
)

// Logger wraps zerolog so every component logs with the same field names.
type Logger struct {
	zlog zerolog.Logger
}

// New builds a logger from the log section. Output is stdout, stderr or a file path
// opened for append; a file that cannot be opened falls back to stderr. Format
// "console" selects the human-readable writer, anything else JSON.
func New(cfg config.LogConfig) *Logger {
	var w io.Writer
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			w = os.Stderr
		} else {
			w = f
		}
	}

	if strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02 15:04:05"}
	}
	return &Logger{zlog: zerolog.New(w).With().Timestamp().Logger().Level(parseLevel(cfg.Level))}
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// NewWithWriter returns a JSON logger writing to w. Tests use it to capture output.
func NewWithWriter(w io.Writer, level string) *Logger {
	return &Logger{zlog: zerolog.New(w).With().Timestamp().Logger().Level(parseLevel(level))}
}

// parseLevel accepts zerolog level names plus "warning". Unknown or empty names
// select info.
func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return zerolog.WarnLevel
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }

func (l *Logger) Info() *zerolog.Event { return l.zlog.Info() }

func (l *Logger) Warn() *zerolog.Event { return l.zlog.Warn() }

func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }

// Fatal logs and exits the process with status 1.
func (l *Logger) Fatal() *zerolog.Event { return l.zlog.Fatal() }

// Level reports the minimum level that is written.
func (l *Logger) Level() zerolog.Level { return l.zlog.GetLevel() }

// WithComponent tags every entry with the emitting component ("cache", "warmer", ...).
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{zlog: l.zlog.With().Str(Component, component).Logger()}
}

// WithFields returns a child logger carrying fields on every entry.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{zlog: l.zlog.With().Fields(fields).Logger()}
}

// Zerolog exposes the underlying logger for libraries that accept one.
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zlog
}
