// Package logger builds the zap loggers used by the reminderd binaries and
// provides sanitizers for values that originate outside the process.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New selects the logger for a binary. format "console" yields the
// development logger; anything else yields production JSON.
func New(service, format string, debugMode bool) (*zap.Logger, error) {
	if format == "console" {
		return NewDevelopmentLogger(service)
	}
	return NewProductionLogger(service, debugMode)
}

// NewProductionLogger creates a JSON logger for the server, scheduler and
// worker binaries. service is attached to every entry so the three processes
// can share one log pipeline.
func NewProductionLogger(service string, debugMode bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	if debugMode {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.Encoding = "json"
	config.EncoderConfig = zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// Error level and above carry stack traces.
	config.DisableStacktrace = false

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	if service != "" {
		logger = logger.With(zap.String("service", service))
	}
	return logger, nil
}

// NewDevelopmentLogger creates a console logger at debug level for local runs.
func NewDevelopmentLogger(service string) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	if service != "" {
		logger = logger.Named(service)
	}
	return logger, nil
}

// Sync flushes any buffered log entries. Safe to call on a nil logger and
// safe to call more than once.
func Sync(logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	return logger.Sync()
}
