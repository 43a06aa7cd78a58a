// Package logger builds the zap loggers used across flowbot and the field
// helpers that tag conversation logs.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a console or json logger. Logs go to stdout unless outputs
// name other sinks; the console chat passes "stderr" to keep the
// conversation readable.
func New(json bool, debug bool, outputs ...string) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	encoding := "console"

	if json {
		encoding = "json"
	}

	if debug {
		level = zapcore.DebugLevel
	}

	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	cfg := zap.Config{
		Encoding:         encoding,
		Level:            zap.NewAtomicLevelAt(level),
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey: "step",

			LevelKey:    "level",
			EncodeLevel: zapcore.LowercaseLevelEncoder,

			TimeKey:    "time",
			EncodeTime: zapcore.RFC3339TimeEncoder,

			CallerKey:    "caller",
			EncodeCaller: zapcore.ShortCallerEncoder,
		},
	}
	if json {
		cfg.EncoderConfig.NameKey = "logger"
		cfg.EncoderConfig.StacktraceKey = "stacktrace"
	}

	return cfg.Build()
}

// TruncateForLog trims s and cuts it to limit runes, appending an ellipsis
// when something was cut. User text only reaches the logs through here.
func TruncateForLog(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
