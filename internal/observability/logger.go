// File: internal/observability/logger.go
package observability

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/AGmitmanipal/MINDMESH/internal/config"
)

var (
	globalLogger atomic.Pointer[zap.Logger]
	once         sync.Once
)

// InitializeLogger sets up the process-wide zap logger from configuration.
// Console output always; a rotated JSON file is added when LogFile is set.
// Subsequent calls are no-ops.
func InitializeLogger(cfg config.LoggerConfig) {
	once.Do(func() {
		level := zap.NewAtomicLevel()
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level.SetLevel(zap.InfoLevel)
		}

		consoleCore := zapcore.NewCore(newEncoder(cfg.Format), zapcore.Lock(os.Stdout), level)
		cores := []zapcore.Core{consoleCore}

		if cfg.LogFile != "" {
			fileWriter := zapcore.AddSync(&lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			})
			cores = append(cores, zapcore.NewCore(newEncoder("json"), fileWriter, level))
		}

		options := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
		if cfg.AddSource {
			options = append(options, zap.AddCaller())
		}

		logger := zap.New(zapcore.NewTee(cores...), options...).Named(cfg.ServiceName)
		globalLogger.Store(logger)

		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

func newEncoder(format string) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	if format == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

// GetLogger returns the initialized global logger, or a development fallback
// if InitializeLogger has not run yet.
func GetLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l.Named("fallback")
}

// Sync flushes buffered log entries. Safe to call during shutdown.
func Sync() {
	if logger := globalLogger.Load(); logger != nil {
		if err := logger.Sync(); err != nil {
			fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
		}
	}
}
