// Package log provides the leveled logger shared by speedykv components.
package log

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents the logging level
type Level int

const (
	// LevelDebug level for detailed troubleshooting information
	LevelDebug Level = iota
	// LevelInfo level for general operational information
	LevelInfo
	// LevelWarn level for potentially harmful situations
	LevelWarn
	// LevelError level for error events that might still allow the application to continue
	LevelError
	// LevelFatal level for severe error events that will lead the application to abort
	LevelFatal
)

// String returns the string representation of the log level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", l)
	}
}

// ParseLevel maps a config string such as "debug" or "WARN" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "fatal":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger interface defines the methods for logging at different levels
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	// Fatal logs a fatal-level message and then calls os.Exit(1)
	Fatal(msg string, args ...interface{})
	// WithFields returns a new logger with the given fields added to the context
	WithFields(fields map[string]interface{}) Logger
	// WithField returns a new logger with the given field added to the context
	WithField(key string, value interface{}) Logger
	GetLevel() Level
	SetLevel(level Level)
}

// StandardLogger writes "[time] [LEVEL] k=v message" lines to an io.Writer.
// Fields are emitted in key order.
type StandardLogger struct {
	mu     *sync.Mutex
	level  *Level
	out    io.Writer
	fields map[string]interface{}
}

// LoggerOption is a function that configures a StandardLogger
type LoggerOption func(*StandardLogger)

// NewStandardLogger creates a new StandardLogger with the given options
func NewStandardLogger(options ...LoggerOption) *StandardLogger {
	level := LevelInfo
	logger := &StandardLogger{
		mu:     &sync.Mutex{},
		level:  &level,
		out:    os.Stderr,
		fields: make(map[string]interface{}),
	}

	for _, option := range options {
		option(logger)
	}

	return logger
}

// WithLevel sets the logging level
func WithLevel(level Level) LoggerOption {
	return func(l *StandardLogger) {
		*l.level = level
	}
}

// WithOutput sets the output writer
func WithOutput(out io.Writer) LoggerOption {
	return func(l *StandardLogger) {
		l.out = out
	}
}

// WithInitialFields sets initial fields for the logger
func WithInitialFields(fields map[string]interface{}) LoggerOption {
	return func(l *StandardLogger) {
		for k, v := range fields {
			l.fields[k] = v
		}
	}
}

func (l *StandardLogger) log(level Level, msg string, args ...interface{}) {
	if level < l.GetLevel() {
		return
	}

	formatted := msg
	if len(args) > 0 {
		formatted = fmt.Sprintf(msg, args...)
	}

	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(time.Now().Format("2006-01-02 15:04:05.000"))
	sb.WriteString("] [")
	sb.WriteString(level.String())
	sb.WriteString("]")

	if len(l.fields) > 0 {
		keys := make([]string, 0, len(l.fields))
		for k := range l.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, l.fields[k])
		}
	}

	sb.WriteString(" ")
	sb.WriteString(formatted)
	sb.WriteString("\n")

	l.mu.Lock()
	_, _ = io.WriteString(l.out, sb.String())
	l.mu.Unlock()

	if level == LevelFatal {
		os.Exit(1)
	}
}

// Debug logs a debug-level message
func (l *StandardLogger) Debug(msg string, args ...interface{}) {
	l.log(LevelDebug, msg, args...)
}

// Info logs an info-level message
func (l *StandardLogger) Info(msg string, args ...interface{}) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs a warning-level message
func (l *StandardLogger) Warn(msg string, args ...interface{}) {
	l.log(LevelWarn, msg, args...)
}

// Error logs an error-level message
func (l *StandardLogger) Error(msg string, args ...interface{}) {
	l.log(LevelError, msg, args...)
}

// Fatal logs a fatal-level message and then calls os.Exit(1)
func (l *StandardLogger) Fatal(msg string, args ...interface{}) {
	l.log(LevelFatal, msg, args...)
}

// WithFields returns a child logger. The child shares output, lock and level
// with its parent so SetLevel on the root applies everywhere.
func (l *StandardLogger) WithFields(fields map[string]interface{}) Logger {
	child := &StandardLogger{
		mu:     l.mu,
		level:  l.level,
		out:    l.out,
		fields: make(map[string]interface{}, len(l.fields)+len(fields)),
	}

	for k, v := range l.fields {
		child.fields[k] = v
	}
	for k, v := range fields {
		child.fields[k] = v
	}

	return child
}

// WithField returns a new logger with the given field added to the context
func (l *StandardLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// GetLevel returns the current logging level
func (l *StandardLogger) GetLevel() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.level
}

// SetLevel sets the logging level
func (l *StandardLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.level = level
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = NewStandardLogger()
)

// SetDefaultLogger replaces the logger used by the package-level helpers.
func SetDefaultLogger(logger *StandardLogger) {
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
}

// GetDefaultLogger returns the default logger instance
func GetDefaultLogger() *StandardLogger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Component returns a child of the default logger tagged with component=name.
func Component(name string) Logger {
	return GetDefaultLogger().WithField("component", name)
}

// Debug logs a debug-level message to the default logger
func Debug(msg string, args ...interface{}) {
	GetDefaultLogger().Debug(msg, args...)
}

// Info logs an info-level message to the default logger
func Info(msg string, args ...interface{}) {
	GetDefaultLogger().Info(msg, args...)
}

// Warn logs a warning-level message to the default logger
func Warn(msg string, args ...interface{}) {
	GetDefaultLogger().Warn(msg, args...)
}

// Error logs an error-level message to the default logger
func Error(msg string, args ...interface{}) {
	GetDefaultLogger().Error(msg, args...)
}

// SetLevel sets the logging level of the default logger
func SetLevel(level Level) {
	GetDefaultLogger().SetLevel(level)
}
