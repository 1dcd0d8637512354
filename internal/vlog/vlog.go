// Package vlog centralizes structured logging for the bridge, built on
// charmbracelet/log so host, embedded, and CLI components share one
// leveled, timestamped log format.
package vlog

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Logger is a leveled, structured logger carrying a set of persistent
// key/value fields, e.g. the serial device path or a request sequence
// number.
type Logger struct {
	l *log.Logger
}

// New builds a Logger writing to w (os.Stderr when w is nil) at level.
func New(w io.Writer, level log.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           level,
	})
	return &Logger{l: l}
}

// Default builds a Logger at info level writing to stderr.
func Default() *Logger {
	return New(os.Stderr, log.InfoLevel)
}

// With returns a child Logger with the given key/value pairs attached
// to every subsequent message.
func (lg *Logger) With(kv ...any) *Logger {
	return &Logger{l: lg.l.With(kv...)}
}

func (lg *Logger) Debug(msg string, kv ...any) { lg.l.Debug(msg, kv...) }
func (lg *Logger) Info(msg string, kv ...any)  { lg.l.Info(msg, kv...) }
func (lg *Logger) Warn(msg string, kv ...any)  { lg.l.Warn(msg, kv...) }
func (lg *Logger) Error(msg string, kv ...any) { lg.l.Error(msg, kv...) }
