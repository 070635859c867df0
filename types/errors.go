package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrCacheKeyEmpty        = errors.New("cache key empty")
	ErrCacheClosed          = errors.New("cache closed")
	ErrCacheOperationFailed = errors.New("cache operation failed")
	ErrProviderTypeUnknown  = errors.New("provider type unknown")
	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrNoProviders          = errors.New("no cache providers configured")
	ErrPatternInvalid       = errors.New("pattern invalid")
	ErrPolicyUnknown        = errors.New("policy unknown")
)

var (
	ErrManagerRequired = errors.New("cache manager is required")
	ErrSourceRequired  = errors.New("event source is required")
	ErrMonitorRequired = errors.New("cache monitor is required")
	ErrLoggerRequired  = errors.New("logger is required")
)

var (
	ErrAlreadyRunning = errors.New("already running")
	ErrNotRunning     = errors.New("not running")
)

var (
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
