// Package obslog holds the process-wide *zap.Logger the core passes down
// by constructor injection, following the pattern used throughout the
// zmux-server infrastructure packages (NewX(log *zap.Logger), nil defaults
// to a no-op logger so callers never need a nil check).
package obslog

import "go.uber.org/zap"

// Or returns log if non-nil, otherwise a no-op logger.
func Or(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

// Fatal logs an operation/handle/value diagnostic at error level. It does
// not abort; the caller carries on or returns as it sees fit. It mirrors the "<operation>: <message>: <value>" wire
// format as structured fields instead of a formatted string, since this is
// additionally consumed by log aggregation, not just a terminal.
func Fatal(log *zap.Logger, op, msg string, value any, err error) {
	Or(log).Error("fatal",
		zap.String("op", op),
		zap.String("msg", msg),
		zap.Any("value", value),
		zap.Error(err),
	)
}
