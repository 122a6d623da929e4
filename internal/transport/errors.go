package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrRejected marks a permanent per-message rejection (bad request,
// forbidden). The caller may skip the message and carry on.
var ErrRejected = errors.New("transport: message rejected")

// RateLimitedError is returned when the platform throttles the bot.
type RateLimitedError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *RateLimitedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport: rate limited, retry after %s: %v", e.RetryAfter, e.Cause)
	}
	return fmt.Sprintf("transport: rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return e.Cause }

// RetryAfter reports the platform-requested wait, if err carries one.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}

// IsRejected reports whether err is a permanent per-message rejection.
func IsRejected(err error) bool { return errors.Is(err, ErrRejected) }

// Rejected wraps cause so that IsRejected reports true.
func Rejected(cause error) error {
	if cause == nil {
		return ErrRejected
	}
	return fmt.Errorf("%w: %v", ErrRejected, cause)
}
