// Package log provides the structured logging facade used across the service.
package log

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// LoggerKeyComponentName is the field key identifying the emitting component.
const LoggerKeyComponentName = "component"

// Field is a typed key/value pair attached to log entries.
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an int field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field.
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a bool field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Any creates a field holding an arbitrary value.
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Error creates a field holding an error value.
func Error(err error) Field {
	return Field{Key: "error", Value: err}
}

// Logger wraps a logrus entry with the field-based API.
type Logger struct {
	entry *logrus.Entry
}

var (
	rootLogger *Logger
	once       sync.Once
)

// GetLogger returns the shared root logger, initializing it on first use.
func GetLogger() *Logger {
	once.Do(func() {
		base := logrus.New()
		base.SetOutput(os.Stdout)
		base.SetFormatter(&logrus.JSONFormatter{})
		base.SetLevel(logrus.InfoLevel)
		rootLogger = &Logger{entry: logrus.NewEntry(base)}
	})
	return rootLogger
}

// Configure applies the logging level and format from configuration.
// Unknown values fall back to the defaults (info, json).
func Configure(level, format string) {
	logger := GetLogger()
	if parsed, err := logrus.ParseLevel(level); err == nil {
		logger.entry.Logger.SetLevel(parsed)
	}
	if format == "text" {
		logger.entry.Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// With returns a child logger carrying the given fields on every entry.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{entry: l.entry.WithFields(toLogrusFields(fields))}
}

// Debug logs a message at debug level.
func (l *Logger) Debug(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Debug(msg)
}

// Info logs a message at info level.
func (l *Logger) Info(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Info(msg)
}

// Warn logs a message at warn level.
func (l *Logger) Warn(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Warn(msg)
}

// Error logs a message at error level.
func (l *Logger) Error(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Error(msg)
}

// Fatal logs a message at fatal level and exits.
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Fatal(msg)
}

func toLogrusFields(fields []Field) logrus.Fields {
	if len(fields) == 0 {
		return nil
	}
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}
