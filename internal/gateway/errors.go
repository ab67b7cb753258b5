package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrServiceDisabled marks a check turned off by configuration. It is not a
// failure: the wrapper answers with a placeholder fallback and never retries.
var ErrServiceDisabled = errors.New("check disabled by configuration")

// TransientFetchError wraps a network or navigation failure that is worth
// retrying.
type TransientFetchError struct {
	Op  string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch failure during %s: %v", e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientFetchError for the given operation.
func Transient(op string, err error) error {
	return &TransientFetchError{Op: op, Err: err}
}

// CaptchaSolveError reports that a challenge could not be solved. Timeout
// distinguishes a solver deadline from a provider-reported failure; both
// count toward the breaker and are retryable.
type CaptchaSolveError struct {
	Timeout bool
	Reason  string
}

func (e *CaptchaSolveError) Error() string {
	if e.Timeout {
		return "captcha solve timed out"
	}
	return fmt.Sprintf("captcha solve failed: %s", e.Reason)
}

// CircuitOpenError is returned without invoking the upstream while the
// breaker cooldown is running.
type CircuitOpenError struct {
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open, retry in %s", e.RetryAfter.Round(time.Second))
}

// ParseError means the upstream answered but its page or payload no longer
// matches what the extractor expects. Retried a bounded number of times, but
// surfaced distinctly so operators notice layout drift.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse failure: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// retryable classifies a perform failure. Cancellation of the caller's
// context is final; everything else in the taxonomy is worth another attempt.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrServiceDisabled) {
		return false
	}
	return true
}
