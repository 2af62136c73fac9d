// Package logger holds the process-wide structured logger.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log = zap.NewNop().Sugar()

// Initialize builds the global logger. Production environments get JSON output,
// everything else the human readable development encoder. LOG_LEVEL overrides the level.
func Initialize(env string) error {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		level, err := zapcore.ParseLevel(strings.ToLower(lvl))
		if err != nil {
			return err
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	log = l.Sugar()
	return nil
}

// Sync flushes buffered entries.
func Sync() {
	_ = log.Sync()
}

func Debugf(format string, args ...any) { log.Debugf(format, args...) }

func Infof(format string, args ...any) { log.Infof(format, args...) }

func Warnf(format string, args ...any) { log.Warnf(format, args...) }

func Errorf(format string, args ...any) { log.Errorf(format, args...) }

