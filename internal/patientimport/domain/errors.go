package domain

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound         = errors.New("job not found")
	ErrRowNotFound         = errors.New("row not found")
	ErrMappingNotFound     = errors.New("patient mapping not found")
	ErrHeaderMismatch      = errors.New("csv header does not match the recognized schema")
	ErrTooManyRows         = errors.New("csv exceeds the maximum number of rows")
	ErrInvalidPayload      = errors.New("invalid stage payload")
	ErrPatientNotQueryable = errors.New("patient cannot be queried")
)

// Customer-facing failure reasons. These never carry internal detail.
const (
	ReasonInternalError   = "internal error"
	ReasonNotQueryable    = "patient could not be queried for records"
	ReasonValidationError = "invalid row"
	ReasonHeaderMismatch  = "invalid file headers"
)

// RetryableError marks a failure that should be retried by re-delivery
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err so the worker requeues the delivery
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
