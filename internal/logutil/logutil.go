// Package logutil builds the zap loggers used across the engine.
package logutil

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/paveg/distjoin/internal/config"
)

// Adjust returns logger, or a no-op logger when logger is nil, so that
// components can log unconditionally.
func Adjust(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// New builds a logger for cfg: a development console logger at debug level
// when VerboseLogging is set, otherwise a production JSON logger at info.
func New(cfg config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.VerboseLogging {
		zc = zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		zc = zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		zc.Sampling = nil
	}
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build(zap.AddStacktrace(zapcore.FatalLevel))
}

// ForRank names logger after a worker rank.
func ForRank(logger *zap.Logger, rank int) *zap.Logger {
	return Adjust(logger).With(zap.Int("rank", rank))
}
