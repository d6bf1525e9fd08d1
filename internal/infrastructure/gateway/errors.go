package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RateLimitedError is returned when a store kept answering 429 until the
// attempt budget ran out.
type RateLimitedError struct {
	Store      string
	Method     string
	URL        string
	Attempts   int
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("store %s rate limited %s %s after %d attempts (last retry-after %s)",
		e.Store, e.Method, e.URL, e.Attempts, e.RetryAfter)
}

// RemoteAPIError is any other failed call: a non-2xx status, a transport
// error, a timeout or an open circuit. StatusCode is 0 when no response was
// received.
type RemoteAPIError struct {
	Store      string
	Method     string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteAPIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("store %s %s %s failed: %v", e.Store, e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("store %s %s %s returned %d: %s", e.Store, e.Method, e.URL, e.StatusCode, e.Body)
}

func (e *RemoteAPIError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err came from an exhausted rate-limit budget.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// StatusCode extracts the HTTP status from a gateway error, 0 if none.
func StatusCode(err error) int {
	var remote *RemoteAPIError
	if errors.As(err, &remote) {
		return remote.StatusCode
	}
	if IsRateLimited(err) {
		return 429
	}
	return 0
}

// countsAgainstBreaker is true for failures that say something about the
// store's health. Rate limiting and client errors do not.
func countsAgainstBreaker(err error) bool {
	if err == nil || IsRateLimited(err) || errors.Is(err, context.Canceled) {
		return false
	}
	var remote *RemoteAPIError
	if errors.As(err, &remote) && remote.StatusCode >= 400 && remote.StatusCode < 500 {
		return false
	}
	return true
}
