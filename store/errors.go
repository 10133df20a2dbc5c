package store

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies the errors the store's public API is allowed to surface.
// Merge failures and internal faults never reach a caller as an error
// value; they are logged and counted instead.
type Kind int

const (
	// KindInvalidArgument marks a malformed key, filter or parameter.
	KindInvalidArgument Kind = iota
	// KindNotFound marks an unknown area or peer.
	KindNotFound
	// KindTimeout marks an operation that exceeded its caller-supplied deadline.
	KindTimeout
	// KindTransportError marks an unreachable peer or protocol violation.
	KindTransportError
	// KindRateLimited marks a flood dropped/deferred by the token bucket.
	KindRateLimited
	// KindShuttingDown marks an area that has begun shutdown and rejects new work.
	KindShuttingDown
	// KindInternal marks a fault that is logged and counted, never surfaced.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindNotFound:
		return "NOT_FOUND"
	case KindTimeout:
		return "TIMEOUT"
	case KindTransportError:
		return "TRANSPORT_ERROR"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindShuttingDown:
		return "SHUTTING_DOWN"
	default:
		return "INTERNAL"
	}
}

// Error is the typed error returned by the store's public API.
type Error struct {
	Kind Kind
	Op   string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// newError builds a typed Error, wrapping cause with errors.Wrap so the
// underlying stack trace is preserved for logging at the call site.
func newError(kind Kind, op string, cause error) *Error {
	if cause != nil {
		cause = errors.Wrap(cause, op)
	}
	return &Error{Kind: kind, Op: op, err: cause}
}

func errInvalidArgument(op string, cause error) error { return newError(KindInvalidArgument, op, cause) }
func errNotFound(op string, cause error) error        { return newError(KindNotFound, op, cause) }
func errTimeout(op string, cause error) error         { return newError(KindTimeout, op, cause) }
func errTransport(op string, cause error) error       { return newError(KindTransportError, op, cause) }
func errShuttingDown(op string) error                 { return newError(KindShuttingDown, op, nil) }

// AsError reports whether err is a *Error and returns it.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
