package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

var Logger *log.Logger

var (
	mu   sync.Mutex
	subs = make(map[string]*log.Logger)
)

func init() {
	Logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})

	// Set log level from environment variable
	SetLevel(os.Getenv("LOG_LEVEL"))
}

// ParseLevel maps a level name to a log level. Unknown or empty names map to
// INFO and report false.
func ParseLevel(level string) (log.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return log.DebugLevel, true
	case "INFO":
		return log.InfoLevel, true
	case "WARN", "WARNING":
		return log.WarnLevel, true
	case "ERROR":
		return log.ErrorLevel, true
	case "FATAL":
		return log.FatalLevel, true
	default:
		return log.InfoLevel, false
	}
}

// SetLevel changes the level of the shared logger and every logger derived
// from it with With.
func SetLevel(level string) {
	lvl, _ := ParseLevel(level)

	mu.Lock()
	defer mu.Unlock()
	Logger.SetLevel(lvl)
	for _, sub := range subs {
		sub.SetLevel(lvl)
	}
}

// With returns the sub-logger prefixed with the component name. Every call
// for the same component returns the same logger.
func With(component string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	if sub, ok := subs[component]; ok {
		return sub
	}
	sub := Logger.WithPrefix(component)
	subs[component] = sub
	return sub
}

// Convenience functions for common operations
func Info(msg interface{}, keyvals ...interface{}) {
	Logger.Info(msg, keyvals...)
}

func Debug(msg interface{}, keyvals ...interface{}) {
	Logger.Debug(msg, keyvals...)
}

func Warn(msg interface{}, keyvals ...interface{}) {
	Logger.Warn(msg, keyvals...)
}

func Error(msg interface{}, keyvals ...interface{}) {
	Logger.Error(msg, keyvals...)
}

func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	Logger.Errorf(format, args...)
}
