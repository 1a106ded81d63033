package tilestore

import (
	"io"
	"log/slog"
	"os"

	"github.com/natefinch/lumberjack"
)

// Logger wraps slog.Logger with tile store context.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. A nil handler logs
// text at info level to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewFileLogger writes text logs to a rotating file. maxSize is in
// megabytes and maxAge in days; zero keeps lumberjack's defaults.
func NewFileLogger(path string, maxSize, maxAge int, level slog.Level) (*Logger, io.Closer) {
	l := &lumberjack.Logger{
		Filename: path,
		MaxSize:  maxSize,
		MaxAge:   maxAge,
	}
	return NewLogger(slog.NewTextHandler(l, &slog.HandlerOptions{Level: level})), l
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithCoord adds a coords field to the logger.
func (l *Logger) WithCoord(c Coord) *Logger {
	return &Logger{
		Logger: l.Logger.With("coords", c.String()),
	}
}

// WithMask adds a mask field to the logger.
func (l *Logger) WithMask(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("mask", name),
	}
}

// ParseLevel maps a config level name onto a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
