// Package logger provides the leveled, package-level logger used across the module.
// Messages are written through a zap core with a console encoder; the level can be
// changed at runtime with SetLogLevel.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar = newSugaredLogger(os.Stderr)
)

func newSugaredLogger(w io.Writer) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core).Sugar()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// SetLogLevel sets the global log level.
// Valid values are "DEBUG", "INFO", "WARN", "ERROR" and "FATAL" (case-insensitive).
// Unknown values fall back to INFO.
func SetLogLevel(lvl string) {
	switch strings.ToUpper(strings.TrimSpace(lvl)) {
	case "DEBUG":
		level.SetLevel(zapcore.DebugLevel)
	case "INFO", "":
		level.SetLevel(zapcore.InfoLevel)
	case "WARN":
		level.SetLevel(zapcore.WarnLevel)
	case "ERROR":
		level.SetLevel(zapcore.ErrorLevel)
	case "FATAL":
		level.SetLevel(zapcore.FatalLevel)
	default:
		fmt.Fprintf(os.Stderr, "Unknown log level '%s' specified. Defaulting to INFO level.\n", lvl)
		level.SetLevel(zapcore.InfoLevel)
	}
}

// GetLogLevel returns the current level name in upper case.
func GetLogLevel() string {
	return strings.ToUpper(level.Level().String())
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	sugar = newSugaredLogger(w)
}

// Sync flushes buffered log entries.
func Sync() error {
	return current().Sync()
}

// Debugf logs a DEBUG level message.
func Debugf(format string, v ...interface{}) {
	current().Debugf(format, v...)
}

// Infof logs an INFO level message.
func Infof(format string, v ...interface{}) {
	current().Infof(format, v...)
}

// Warnf logs a WARN level message.
func Warnf(format string, v ...interface{}) {
	current().Warnf(format, v...)
}

// Errorf logs an ERROR level message.
func Errorf(format string, v ...interface{}) {
	current().Errorf(format, v...)
}

// Fatalf logs a FATAL level message and terminates the process.
func Fatalf(format string, v ...interface{}) {
	current().Fatalf(format, v...)
}
