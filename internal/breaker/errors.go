package breaker

import (
	"errors"
	"fmt"
	"time"
)

// OpenError is returned without invoking the action when the breaker is
// OPEN, or HALF_OPEN with every trial slot taken.
type OpenError struct {
	Service string
	State   State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker for %s is %s", e.Service, e.State)
}

// IsBreakerOpen lets callers degrade instead of surfacing a generic failure.
func (e *OpenError) IsBreakerOpen() bool { return true }

// TimeoutError is returned when the action did not finish within the
// breaker's call timeout.
type TimeoutError struct {
	Service string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call to %s timed out after %s", e.Service, e.After)
}

func (e *TimeoutError) Timeout() bool { return true }

// IsOpen reports whether err was produced by an open breaker.
func IsOpen(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe)
}

// IsTimeout reports whether err was produced by a breaker call timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
