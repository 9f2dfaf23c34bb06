// Package logging provides the server's level-gated logger: console +
// append-only file under <data-dir>/server.log, with a per-level Prometheus
// counter so log volume is itself observable.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LogLevel is the severity of a log line.
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

var linesByLevel = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "realm_log_lines_total",
	Help: "Log lines emitted, by level.",
}, []string{"level"})

func init() {
	prometheus.MustRegister(linesByLevel)
}

// Logger writes to stdout (INFO and above) and to an append-only file (all levels).
type Logger struct {
	mu     sync.Mutex
	console *log.Logger
	file    *log.Logger
	closer  *os.File
}

var global *Logger

// Init opens <dataDir>/server.log and installs it as the global logger.
// Safe to call multiple times; the previous file handle is closed first.
func Init(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "server.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open server.log: %w", err)
	}

	if global != nil && global.closer != nil {
		_ = global.closer.Close()
	}
	global = &Logger{
		console: log.New(os.Stdout, "", log.LstdFlags),
		file:    log.New(f, "", log.LstdFlags),
		closer:  f,
	}
	return nil
}

// Close flushes and closes the log file. Safe to call on an uninitialized logger.
func Close() {
	if global != nil && global.closer != nil {
		_ = global.closer.Close()
	}
}

func ensure() *Logger {
	if global == nil {
		// Fall back to stdout-only so library code never panics for lack of Init.
		global = &Logger{console: log.New(os.Stdout, "", log.LstdFlags)}
	}
	return global
}

func emit(level LogLevel, format string, args ...interface{}) {
	l := ensure()
	linesByLevel.WithLabelValues(level.String()).Inc()

	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf("[%s] %s", level, fmt.Sprintf(format, args...))
	if l.file != nil {
		l.file.Println(msg)
	}
	if level >= INFO {
		l.console.Println(msg)
	}
}

func Trace(format string, args ...interface{}) { emit(TRACE, format, args...) }
func Debug(format string, args ...interface{}) { emit(DEBUG, format, args...) }
func Info(format string, args ...interface{})  { emit(INFO, format, args...) }
func Warn(format string, args ...interface{})  { emit(WARN, format, args...) }
func Error(format string, args ...interface{}) { emit(ERROR, format, args...) }

// Fatal logs msg with a full stack trace at ERROR level, flushes, and exits
// the process non-zero. Called by the tick loop's top-level recover
// (world.Realm) and by main for unrecoverable startup failures.
func Fatal(format string, args ...interface{}) {
	emit(ERROR, format, args...)
	emit(ERROR, "stack trace:\n%s", debug.Stack())
	Close()
	os.Exit(1)
}
