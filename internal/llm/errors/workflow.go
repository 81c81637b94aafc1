package errors

import (
	"fmt"
)

// WorkflowError carries a classified error for logging, metrics labels and
// the Temporal activity boundary.
type WorkflowError struct {
	Type      ErrorType      `json:"type"`
	Message   string         `json:"message"`
	Code      string         `json:"code"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details"`
	Cause     error          `json:"-"`
}

// Error returns formatted error string with type and code context.
func (e *WorkflowError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As compatibility.
func (e *WorkflowError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether the classified type is a rate or quota condition.
func (e *WorkflowError) IsTransient() bool {
	return e.Type == ErrorTypeRateLimit || e.Type == ErrorTypeQuota
}
