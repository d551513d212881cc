// Package logging provides the named loggers used throughout dDoc.
//
// Every package grabs its logger once at init time (e.g. logging.GetLogger("store")).
// All loggers share a single atomic level, so InitLoggers can change the
// verbosity after the package level loggers have already been created.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	baseOnce sync.Once
	base     *zap.Logger
)

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// rootLogger lazily builds the logger all named loggers derive from.
// Output format: "<time> | LEVEL | name | message"
func rootLogger() *zap.Logger {
	baseOnce.Do(func() {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encCfg.ConsoleSeparator = " | "
		encCfg.CallerKey = ""

		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stdout),
			level,
		)
		base = zap.New(core)
	})
	return base
}

// GetLogger returns a named logger. Loggers with the same name share configuration.
func GetLogger(name string) *zap.SugaredLogger {
	return rootLogger().Named(name).Sugar()
}

// --------------------------------------------------------------------------
// Level handling
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to a zapcore.Level
func ParseLogLevel(lvl string) (zapcore.Level, error) {
	switch strings.ToLower(lvl) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warning", "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", lvl)
	}
}

// InitLoggers sets the level of all loggers (already created ones included)
func InitLoggers(lvl string) error {
	l, err := ParseLogLevel(lvl)
	if err != nil {
		return err
	}
	level.SetLevel(l)
	return nil
}

// IsDebug reports whether debug logging is enabled
func IsDebug() bool {
	return level.Enabled(zapcore.DebugLevel)
}

// Sync flushes buffered log entries
func Sync() {
	_ = rootLogger().Sync()
}
