package activity

import (
	"errors"

	"go.temporal.io/sdk/temporal"
)

// Application error types reported to the workflow.
const (
	// ErrorTypeValidation marks invalid activity input. It is never retried.
	ErrorTypeValidation = "Validation"

	// ErrorTypeCancelled marks an activity stopped by workflow cancellation.
	ErrorTypeCancelled = "Cancelled"
)

// ErrActivityValidation is returned when activity input fails validation.
// It is non-retryable: the same input would fail again.
var ErrActivityValidation = errors.New("activity input validation failed")

// nonRetryable wraps an error as a Temporal non-retryable application error
// tagged with errType.
func nonRetryable(errType string, cause error, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, errType, cause)
}
