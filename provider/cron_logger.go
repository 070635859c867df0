package provider

import (
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

// cronLogger adapts types.Logger to the cron.Logger interface used by the
// sweep schedulers of the persistent tiers.
type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
