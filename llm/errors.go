package llm

import (
	"errors"
	"fmt"
)

// Sentinel errors for connection resolution.
var (
	// ErrNoActiveConnection is returned when no connection is marked active.
	ErrNoActiveConnection = errors.New("llm: no active connection")
	// ErrNoEnabledConnections is returned by the fallback path when the
	// connection list is empty.
	ErrNoEnabledConnections = errors.New("llm: no enabled connections")
)

// ValidationError reports a Connection missing a required field. It is
// surfaced immediately and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid connection: %s: %s", e.Field, e.Reason)
}

// HTTPError carries a non-2xx status and the server-provided error body.
type HTTPError struct {
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, truncate(string(e.Body), 200))
}

// TimeoutError marks a transport deadline exceeded, distinct from generic
// network failures.
type TimeoutError struct {
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out: %v", e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// StreamError is a generic failure while reading or decoding a stream. It
// terminates the stream and is surfaced exactly once per request.
type StreamError struct {
	Cause error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream failed: %v", e.Cause)
}

func (e *StreamError) Unwrap() error { return e.Cause }

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
