package logging

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"
)

// Logger defines a minimal, printf-style logging contract.
//
// Components depend on this interface rather than a concrete logger so tests
// can run silent and binaries can decide where output goes.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a level name to a Level, defaulting to info.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

type componentLogger struct {
	mu        sync.Mutex
	out       io.Writer
	level     Level
	component string
}

// New returns a leveled logger scoped to a component, writing to stderr.
func New(component string) Logger {
	return NewWithOptions(component, os.Stderr, LevelInfo)
}

// NewWithOptions returns a leveled logger with an explicit sink and level.
func NewWithOptions(component string, out io.Writer, level Level) Logger {
	if out == nil {
		out = os.Stderr
	}
	return &componentLogger{out: out, level: level, component: component}
}

func (l *componentLogger) log(level Level, format string, args ...any) {
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	line := time.Now().Format("2006-01-02 15:04:05.000") + " [" + level.String() + "]"
	if l.component != "" {
		line += " [" + l.component + "]"
	}
	line += " " + msg

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, line)
}

func (l *componentLogger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

func (l *componentLogger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *componentLogger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *componentLogger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}
