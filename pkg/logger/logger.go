package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
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
		return "INFO"
	}
}

// ParseLogLevel parses a string into a LogLevel
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger keeps the printf-style API on top of a structured slog handler.
type Logger struct {
	slog  *slog.Logger
	level *slog.LevelVar
}

var defaultLogger *Logger

func init() {
	// Get log level from environment variable, default to INFO
	logLevelStr := os.Getenv("LOG_LEVEL")
	if logLevelStr == "" {
		logLevelStr = "INFO"
	}
	defaultLogger = NewLoggerWithLevel(os.Stderr, ParseLogLevel(logLevelStr))
}

// NewLogger creates a new logger instance with INFO level
func NewLogger(w io.Writer) *Logger {
	return NewLoggerWithLevel(w, InfoLevel)
}

// NewLoggerWithLevel creates a JSON logger writing to w with the specified level
func NewLoggerWithLevel(w io.Writer, level LogLevel) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(level.slogLevel())
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lv})
	return &Logger{slog: slog.New(handler), level: lv}
}

// SetLogLevel sets the log level for the default logger
func SetLogLevel(level LogLevel) {
	defaultLogger.level.Set(level.slogLevel())
	defaultLogger.Info("Log level changed to: %s", level.String())
}

// GetLogLevel returns the current log level
func GetLogLevel() LogLevel {
	switch defaultLogger.level.Level() {
	case slog.LevelDebug:
		return DebugLevel
	case slog.LevelWarn:
		return WarnLevel
	case slog.LevelError:
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// SetDefault replaces the package-level logger, mostly for tests.
func SetDefault(l *Logger) {
	defaultLogger = l
}

// Slog exposes the structured logger of the default logger, for request logging middleware
func Slog() *slog.Logger {
	return defaultLogger.slog
}

// Slog returns the underlying structured logger
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

func (l *Logger) log(level slog.Level, format string, args ...interface{}) {
	ctx := context.Background()
	if !l.slog.Enabled(ctx, level) {
		return
	}
	l.slog.Log(ctx, level, fmt.Sprintf(format, args...))
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(slog.LevelInfo, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(slog.LevelError, format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(slog.LevelDebug, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(slog.LevelWarn, format, args...)
}

// Package-level convenience functions using the default logger

// Info logs an info message using the default logger
func Info(format string, args ...interface{}) {
	defaultLogger.Info(format, args...)
}

// Error logs an error message using the default logger
func Error(format string, args ...interface{}) {
	defaultLogger.Error(format, args...)
}

// Debug logs a debug message using the default logger
func Debug(format string, args ...interface{}) {
	defaultLogger.Debug(format, args...)
}

// Warn logs a warning message using the default logger
func Warn(format string, args ...interface{}) {
	defaultLogger.Warn(format, args...)
}

// SetLogLevelFromString sets the log level from a string (convenience function)
func SetLogLevelFromString(level string) {
	SetLogLevel(ParseLogLevel(level))
}
