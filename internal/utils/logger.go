package utils

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel orders log severities; messages below the logger's level are
// dropped.
type LogLevel int32

const (
	Debug   LogLevel = 10
	Info    LogLevel = 20
	Warning LogLevel = 30
	Error   LogLevel = 40
)

// levelFromEnv maps LOG_LEVEL onto a level, defaulting to Info.
func levelFromEnv() LogLevel {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warning
	case "error":
		return Error
	default:
		return Info
	}
}

// Logger is a leveled key/value logger. Each component creates one with
// its own prefix.
type Logger struct {
	logger *log.Logger
	level  atomic.Int32
}

// NewLogger creates a logger for the given component prefix. The level
// comes from LOG_LEVEL unless given explicitly.
func NewLogger(prefix string, level ...LogLevel) *Logger {
	l := &Logger{
		logger: log.New(os.Stdout, "["+prefix+"] ", log.LstdFlags),
	}
	if len(level) > 0 {
		l.level.Store(int32(level[0]))
	} else {
		l.level.Store(int32(levelFromEnv()))
	}
	return l
}

// SetLogLevel changes the minimum level at runtime.
func (l *Logger) SetLogLevel(level LogLevel) {
	l.level.Store(int32(level))
}

// Debug logs a debug message with key/value pairs.
func (l *Logger) Debug(msg string, keyvals ...any) {
	l.write(Debug, "DEBUG", msg, keyvals)
}

// Info logs an informational message with key/value pairs.
func (l *Logger) Info(msg string, keyvals ...any) {
	l.write(Info, "INFO", msg, keyvals)
}

// Warn logs a warning with key/value pairs.
func (l *Logger) Warn(msg string, keyvals ...any) {
	l.write(Warning, "WARN", msg, keyvals)
}

// Error logs an error with key/value pairs.
func (l *Logger) Error(msg string, keyvals ...any) {
	l.write(Error, "ERROR", msg, keyvals)
}

func (l *Logger) write(level LogLevel, tag, msg string, keyvals []any) {
	if int32(level) < l.level.Load() {
		return
	}

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(tag)
	b.WriteString("] ")
	b.WriteString(msg)
	for i := 0; i+1 < len(keyvals); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keyvals[i], keyvals[i+1])
	}
	l.logger.Println(b.String())
}
