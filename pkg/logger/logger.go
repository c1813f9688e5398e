package logger

import "go.uber.org/zap"

// New builds a production-configured zap.Logger at the given level
// ("debug", "info", "warn", "error"). Every SFU/signaling component
// constructs its SugaredLogger from this entry point so log format stays
// uniform across the process.
func New(level string) *zap.Logger {
	zapLevel := zap.InfoLevel
	if err := zapLevel.Set(level); err != nil {
		zapLevel = zap.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	zapLogger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return zapLogger
}
