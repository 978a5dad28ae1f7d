package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrGenerationTimeout   = errors.New("generation timed out")
	ErrEmptyOutput         = errors.New("generation returned empty output")
	ErrNoValidRows         = errors.New("no valid rows in file")
	ErrInvalidFileFormat   = errors.New("invalid file format")
	ErrBatchNotFound       = errors.New("batch not found")
	ErrGuestLimitReached   = errors.New("guest usage limit reached")
)

// GenerationError carries the provider's error detail for a terminally
// failed prediction.
type GenerationError struct {
	Status string
	Detail string
}

func (e GenerationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("generation failed with status %s", e.Status)
	}
	return fmt.Sprintf("generation failed: %s", e.Detail)
}

type RetryableError struct {
	Err     error
	Message string
}

func (e RetryableError) Error() string {
	return fmt.Sprintf("retryable error: %s - %s", e.Message, e.Err.Error())
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

func NewRetryableError(err error, message string) error {
	return RetryableError{
		Err:     err,
		Message: message,
	}
}

// IsPermanent reports whether err must stop the remaining batch queue
// instead of being retried. Only credit exhaustion qualifies: the budget is
// shared by every record, so retrying later records cannot succeed either.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInsufficientCredits)
}
