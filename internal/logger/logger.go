// Package logger provides named loggers that share a single global handler.
package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cenkalti/log"
)

var handler log.Handler

func init() {
	SetHandler(log.NewFileHandler(os.Stderr))
}

// SetHandler changes the global logging handler.
func SetHandler(h log.Handler) {
	handler = h
	handler.SetFormatter(formatter{})
}

// SetLevel sets the logging level on the global handler.
func SetLevel(l log.Level) {
	handler.SetLevel(l)
}

// Logger is for logging messages in various levels.
type Logger log.Logger

// New returns a new Logger with a name.
// Log messages are prefixed with this name by the default handler.
func New(name string) Logger {
	l := log.NewLogger(name)
	l.SetLevel(log.DEBUG) // forward all messages to handler
	l.SetHandler(handler)
	return l
}

type formatter struct{}

// Format outputs a message like "2026-08-23 18:15:57 INFO     [piece #4] block received (downloader.go:42)"
func (formatter) Format(rec *log.Record) string {
	return fmt.Sprintf("%s %-8s [%s] %s (%s:%d)",
		fmt.Sprint(rec.Time)[:19],
		rec.Level,
		rec.LoggerName,
		rec.Message,
		filepath.Base(rec.Filename),
		rec.Line)
}
