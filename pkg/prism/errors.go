package prism

import (
	"errors"
	"fmt"
)

// Sentinel errors for Prism API failures. Callers classify poll failures
// with errors.Is against these.
var (
	// ErrAuthFailed means the credentials were rejected, including after a
	// session re-authentication attempt.
	ErrAuthFailed = errors.New("prism: authentication failed")

	// ErrUnreachable means the target could not be reached at all.
	ErrUnreachable = errors.New("prism: target unreachable")

	// ErrTimeout means the request exceeded its deadline.
	ErrTimeout = errors.New("prism: request timed out")

	// ErrPaginationExhausted means a listing still had entities remaining
	// after the configured page bound. The poll fails rather than serving
	// a silently truncated inventory.
	ErrPaginationExhausted = errors.New("prism: pagination bound exceeded")

	// ErrDecode means the response body was not the expected JSON shape.
	ErrDecode = errors.New("prism: malformed response")
)

// StatusError is returned for unexpected HTTP status codes. 5xx responses
// are retried, other codes are not.
type StatusError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("prism: unexpected status %d for %s: %s", e.StatusCode, e.Path, e.Body)
}

// isTransient reports whether a failed request is worth retrying.
func isTransient(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnreachable) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	return false
}
