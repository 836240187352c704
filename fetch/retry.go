package fetch

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// retryState tracks one request across its attempts. It is discarded once
// the request resolves or runs out of attempts.
type retryState struct {
	attempt     int
	maxAttempts int
	base        time.Duration
	max         time.Duration
	nextDelay   time.Duration
}

func newRetryState(maxAttempts int, base, max time.Duration) *retryState {
	return &retryState{maxAttempts: maxAttempts, base: base, max: max}
}

// begin moves to the next attempt and reports whether one is available.
func (rs *retryState) begin() bool {
	if rs.attempt >= rs.maxAttempts {
		return false
	}
	rs.attempt++
	return true
}

// exhausted reports whether the current attempt was the last one.
func (rs *retryState) exhausted() bool {
	return rs.attempt >= rs.maxAttempts
}

// schedule computes the delay before the next attempt. A server-provided
// Retry-After may lengthen the delay but never beyond the cap.
func (rs *retryState) schedule(retryAfter time.Duration) time.Duration {
	delay := Backoff(rs.attempt, rs.base, rs.max)
	if retryAfter > delay {
		delay = retryAfter
		if rs.max > 0 && delay > rs.max {
			delay = rs.max
		}
	}
	rs.nextDelay = delay
	return delay
}

// Backoff returns base * 2^(attempt-1), capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}

// parseRetryAfter reads a delta-seconds Retry-After header. HTTP dates are ignored.
func parseRetryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	value := strings.TrimSpace(h.Get("Retry-After"))
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
