package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// NewZapSink builds a Subscriber backed by a zap.Logger, bridged through
// zapslog.NewHandler so Splitter can treat it like any other slog
// handler. format selects "console" (development, colorized) or
// anything else for "json" (production), matching the level/format
// construction other agent daemons in the retrieved corpus use for
// their zap setup.
func NewZapSink(level zapcore.Level, format string) (Subscriber, func() error, error) {
	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	zl, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	handler := zapslog.NewHandler(zl.Core())
	return NewHandlerSink(handler), zl.Sync, nil
}
