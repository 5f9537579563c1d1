package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("document job not found")

	// ErrJobAlreadyClaimed is returned when a job is already terminal or
	// claimed by a live worker
	ErrJobAlreadyClaimed = errors.New("job already claimed or terminal")

	// ErrInvalidPayload is returned when the stored field mapping is malformed
	ErrInvalidPayload = errors.New("invalid job field mapping")

	// ErrMaxAttemptsExceeded is returned when a job has exhausted its
	// dispatch attempts and is terminally failed
	ErrMaxAttemptsExceeded = errors.New("max dispatch attempts exceeded")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
