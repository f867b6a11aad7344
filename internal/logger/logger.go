// Package logger wraps github.com/cenkalti/log with a process wide handler shared by all components.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cenkalti/log"
)

var (
	mu      sync.Mutex
	handler log.Handler
)

func init() {
	SetHandler(log.NewFileHandler(os.Stderr))
	SetLevel(log.INFO)
}

// SetHandler replaces the handler that receives records from every Logger created afterwards.
func SetHandler(h log.Handler) {
	mu.Lock()
	defer mu.Unlock()
	h.SetFormatter(formatter{})
	handler = h
}

// SetLevel sets the minimum level that is written by the handler.
func SetLevel(l log.Level) {
	mu.Lock()
	defer mu.Unlock()
	handler.SetLevel(l)
}

// ParseLevel converts a level name like "debug" or "warning" to a log.Level.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DEBUG, nil
	case "info", "":
		return log.INFO, nil
	case "warning", "warn":
		return log.WARNING, nil
	case "error":
		return log.ERROR, nil
	}
	return log.INFO, fmt.Errorf("unknown log level: %q", s)
}

// Logger is the logging interface used by components.
type Logger log.Logger

// New returns a Logger whose messages are prefixed with name.
func New(name string) Logger {
	mu.Lock()
	h := handler
	mu.Unlock()
	l := log.NewLogger(name)
	l.SetLevel(log.DEBUG) // filtering is done by the handler
	l.SetHandler(h)
	return l
}

type formatter struct{}

// Format renders a record as "2006-01-02 15:04:05 INFO     [name] file.go:12 message".
func (formatter) Format(rec *log.Record) string {
	return fmt.Sprintf("%s %-8s [%s] %s %s",
		rec.Time.Format("2006-01-02 15:04:05"),
		rec.Level,
		rec.LoggerName,
		filepath.Base(rec.Filename)+":"+strconv.Itoa(rec.Line),
		rec.Message)
}
