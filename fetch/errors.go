package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a failed fetch.
type Kind int

const (
	KindTimeout Kind = iota + 1
	KindConnection
	KindRateLimited
	KindServerError
	KindRejected
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Retryable reports whether a failure of this kind is worth another attempt.
func (k Kind) Retryable() bool {
	return k != KindRejected && k != 0
}

// FetchError is returned once a request failed for good: either a
// non-retryable rejection or a retryable failure that exhausted its attempts.
type FetchError struct {
	Kind       Kind
	LastStatus int
	URL        string
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s after %d attempt(s)", e.URL, e.Kind, e.Attempts)
	if e.LastStatus != 0 {
		msg += fmt.Sprintf(" (last status %d)", e.LastStatus)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// SessionError indicates that no session could be established for an origin.
type SessionError struct {
	Origin string
	Err    error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session for %s: %v", e.Origin, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind of err, or 0 when err is not a FetchError.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// IsRetryable reports whether err is a FetchError of a retryable kind.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// classifyStatus maps an HTTP status to a failure kind; 0 means success.
func classifyStatus(statusCode int) Kind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case statusCode >= http.StatusInternalServerError:
		return KindServerError
	case statusCode >= http.StatusBadRequest:
		return KindRejected
	default:
		return 0
	}
}

// classifyError maps a transport error to a failure kind.
func classifyError(err error) Kind {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindConnection
}
