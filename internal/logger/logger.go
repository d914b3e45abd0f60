// Package logger provides leveled structured logging.
package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "FATAL"
	}
}

const fatalLevel Level = ErrorLevel + 1

// Logger provides leveled logging in either text or JSON-lines form.
type Logger struct {
	level  Level
	logger *log.Logger
	slog   *slog.Logger
}

var defaultLogger *Logger

// ParseLevel maps a level name to a Level, defaulting to InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Init initializes the default logger with the specified level and format.
func Init(level string, format string) {
	InitWriter(level, format, os.Stderr)
}

// InitWriter is Init with an explicit destination.
func InitWriter(level string, format string, w io.Writer) {
	defaultLogger = New(ParseLevel(level), format, w)
}

// New builds a Logger; format "json" emits one JSON object per line, anything else text.
func New(level Level, format string, w io.Writer) *Logger {
	l := &Logger{level: level}
	if strings.ToLower(format) == "json" {
		l.slog = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       slog.LevelDebug,
			ReplaceAttr: renameLevel,
		}))
		return l
	}
	l.logger = log.New(w, "", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	return l
}

var slogLevels = map[Level]slog.Level{
	DebugLevel: slog.LevelDebug,
	InfoLevel:  slog.LevelInfo,
	WarnLevel:  slog.LevelWarn,
	ErrorLevel: slog.LevelError,
	fatalLevel: slog.LevelError + 4,
}

// renameLevel writes levels as the lowercase names used in text output.
func renameLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	for l, sl := range slogLevels {
		if a.Value.Any() == sl {
			a.Value = slog.StringValue(strings.ToLower(l.String()))
		}
	}
	return a
}

func (l *Logger) output(level Level, format string, args ...interface{}) {
	if l == nil || level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.slog != nil {
		l.slog.Log(context.Background(), slogLevels[level], msg)
		return
	}
	_ = l.logger.Output(3, "["+level.String()+"] "+msg)
}

func Debug(format string, args ...interface{}) {
	defaultLogger.output(DebugLevel, format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.output(InfoLevel, format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.output(WarnLevel, format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.output(ErrorLevel, format, args...)
}

func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.output(fatalLevel, format, args...)
	} else {
		_ = log.Output(2, "[FATAL] "+fmt.Sprintf(format, args...))
	}
	os.Exit(1)
}
