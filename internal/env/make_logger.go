package env

import (
	zap "go.uber.org/zap"
)

// MakeLogger builds the JSON logger used by every command. debug lowers the
// level from Info to Debug, which includes every command written and every
// pending command cancelled on close.
func MakeLogger(debug bool) (*zap.Logger, error) {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(level)
	logConfig.Encoding = "json"

	return logConfig.Build()
}
