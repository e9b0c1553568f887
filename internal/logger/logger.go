// Package logger provides the structured logging interface used across
// notifyroute. The default implementation is backed by log/slog.
package logger

import (
	"fmt"
	"time"
)

// Logger is the structured logger handed to every component.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a child logger that always includes the given fields.
	With(fields ...Field) Logger
	// Module returns a child logger tagged with a component name.
	Module(name string) Logger
}

// LogLevel is the textual minimum level of a logger.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Field is a single key/value attached to a log record.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field { return Field{Key: key, Value: value} }

func Int(key string, value int) Field { return Field{Key: key, Value: value} }

func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

func Uint64(key string, value uint64) Field { return Field{Key: key, Value: value} }

func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

// Any attaches an arbitrary value. Prefer the typed constructors.
func Any(key string, value any) Field { return Field{Key: key, Value: value} }

// Error attaches err under the "error" key. A nil error is logged as an empty string.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: ""}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Stringer attaches the String() form of v.
func Stringer(key string, v fmt.Stringer) Field {
	if v == nil {
		return Field{Key: key, Value: ""}
	}
	return Field{Key: key, Value: v.String()}
}
