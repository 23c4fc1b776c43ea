package ai

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the core can surface. Canceled is a
// terminal status, not a failure; it still flows through the same type so
// callers have one switch.
type ErrorKind string

const (
	// KindTransport is a network or connection failure. A reset before any
	// byte was received is caller-retryable; the core never retries.
	KindTransport ErrorKind = "transport"
	// KindProtocol is a malformed wire payload; fatal for the request only.
	KindProtocol ErrorKind = "protocol"
	// KindTimeout is an adapter-level connect/read timeout.
	KindTimeout          ErrorKind = "timeout"
	KindToolNotAllowed   ErrorKind = "tool_not_allowed"
	KindToolLoopExceeded ErrorKind = "tool_loop_exceeded"
	KindContextOverflow  ErrorKind = "context_overflow"
	KindAgentNotFound    ErrorKind = "agent_not_found"
	KindConfigInvalid    ErrorKind = "config_invalid"
	KindCanceled         ErrorKind = "canceled"
	// KindBusy rejects a request that would overlap one already in flight.
	KindBusy ErrorKind = "busy"
)

// Error is the typed error carried across the provider/engine boundary.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on a bare &Error{Kind: k} sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Errorf builds a typed error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapErr wraps a cause with a kind and message. Returns nil for nil err.
func WrapErr(kind ErrorKind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the ErrorKind from err, or "" for untyped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
