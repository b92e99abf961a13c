package checklistapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrUnauthenticated is returned when no token is configured or the server
// rejects it with 401.
var ErrUnauthenticated = errors.New("unauthenticated")

// RejectedError is a non-2xx answer from the server
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// TransportError wraps a failure to reach the server or read its answer
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying later: the server was
// unreachable, the request timed out, or it answered 5xx / 408 / 429.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var re *RejectedError
	if errors.As(err, &re) {
		switch {
		case re.StatusCode >= 500,
			re.StatusCode == http.StatusRequestTimeout,
			re.StatusCode == http.StatusTooManyRequests:
			return true
		}
	}
	return false
}

// IsRejected reports whether the server answered with a non-transient error
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re) && !IsTransient(err)
}
