// Package gaerr defines the error kinds of the core's fatal-by-default
// propagation policy. Every kind wraps a sentinel so callers can test with
// errors.Is while the message still carries the operation/handle/value
// triple the diagnostic format requires.
package gaerr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Compare with errors.Is, never with ==.
var (
	ErrInvalidHandle    = errors.New("invalid handle")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrUsage            = errors.New("usage error")
	ErrInternal         = errors.New("internal error")
)

// Diag formats the "<operation>: <message>: <value>" diagnostic line
// mandated by the error handling design, wrapping kind so errors.Is keeps
// working after formatting.
func Diag(op string, kind error, msg string, value any) error {
	return fmt.Errorf("%s: %s: %v: %w", op, msg, value, kind)
}

// InvalidHandle builds a diagnostic for a handle that does not name a live
// array slot.
func InvalidHandle(op string, handle int) error {
	return Diag(op, ErrInvalidHandle, "handle does not name a live array", handle)
}

// InvalidArgument builds a diagnostic for a malformed argument.
func InvalidArgument(op string, msg string, value any) error {
	return Diag(op, ErrInvalidArgument, msg, value)
}

// ResourceExhausted builds a diagnostic for slot/memory/transport exhaustion.
func ResourceExhausted(op string, msg string, value any) error {
	return Diag(op, ErrResourceExhausted, msg, value)
}

// Usage builds a diagnostic for an operation invoked outside its contract
// (access without ownership, fence without init_fence, read_inc on a
// non-integer array).
func Usage(op string, msg string, value any) error {
	return Diag(op, ErrUsage, msg, value)
}

// Internal builds a diagnostic for a bookkeeping inconsistency that should
// never occur in a correct implementation (failed alignment reduction,
// corrupted pointer state).
func Internal(op string, msg string, value any) error {
	return Diag(op, ErrInternal, msg, value)
}
