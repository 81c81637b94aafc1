package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType categorizes failures of the external extraction and evaluation
// services. The type decides whether a failure is transient (retried with
// backoff on a separate budget) or permanent (retried up to the content
// attempt ceiling).
//
//nolint:godot // linter incorrectly flags properly capitalized comment
type ErrorType string

const (
	// ErrorTypeRateLimit indicates the provider throttled the request (transient).
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeQuota indicates the account quota was exhausted (transient).
	ErrorTypeQuota ErrorType = "quota_exceeded"

	// ErrorTypeTimeout indicates a request timeout or deadline exceeded.
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeNetwork indicates network connectivity issues.
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeProvider indicates the provider service failed or is unavailable.
	ErrorTypeProvider ErrorType = "provider_unavailable"

	// ErrorTypeCircuitOpen indicates the client-side circuit breaker refused
	// the call (transient).
	ErrorTypeCircuitOpen ErrorType = "circuit_open"

	// ErrorTypeValidation indicates a malformed request or response payload.
	ErrorTypeValidation ErrorType = "validation_failed"

	// ErrorTypeAuth indicates authentication failed.
	ErrorTypeAuth ErrorType = "authentication"

	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = "unknown"
)

// Common external service errors.
var (
	// ErrProviderUnavailable indicates the provider service is down or unreachable.
	ErrProviderUnavailable = errors.New("provider service unavailable")

	// ErrRateLimitExceeded indicates a rate limit has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidResponse indicates the provider returned an unusable response.
	ErrInvalidResponse = errors.New("invalid provider response")

	// ErrJSONValidation indicates a structured response failed to parse.
	ErrJSONValidation = errors.New("JSON validation failed")

	// ErrUnknownModel indicates a model name that is not in the catalogue.
	ErrUnknownModel = errors.New("unknown model")

	// ErrUnknownProvider indicates a provider with no configured adapter.
	ErrUnknownProvider = errors.New("unknown provider")
)

// ProviderError captures structured error responses from the model provider.
type ProviderError struct {
	Provider   string    `json:"provider"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message"`
	Code       string    `json:"code"`
	Type       ErrorType `json:"type"`
	RetryAfter int       `json:"retry_after"` // Retry-After header value in seconds
}

// Error returns formatted provider error with status code context.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsTransient reports whether the provider signalled a rate or quota
// condition, or the circuit breaker refused the call.
func (e *ProviderError) IsTransient() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.Type == ErrorTypeRateLimit ||
		e.Type == ErrorTypeQuota ||
		e.Type == ErrorTypeCircuitOpen
}

// GetRetryAfter returns the provider's suggested wait, or zero.
func (e *ProviderError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// RateLimitError is returned by the client-side limiters when a request is
// refused locally or by the shared Redis window.
//
//nolint:godot // linter incorrectly flags properly capitalized comment
type RateLimitError struct {
	Provider   string `json:"provider"`
	RetryAfter int    `json:"retry_after"` // Seconds to wait before retry
	Limit      int    `json:"limit"`
	LocalLimit bool   `json:"local_limit"`
}

// Error returns formatted rate limit error with retry guidance.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry after %d seconds", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Provider)
}

// GetRetryAfter returns the limiter's suggested wait, or zero.
func (e *RateLimitError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// ExternalServiceError is the boundary error of the extraction and
// evaluation clients. Transient is true for rate and quota conditions.
type ExternalServiceError struct {
	Op        string
	Transient bool
	Err       error
}

// NewExternalServiceError wraps err for operation op, classifying it as
// transient when IsTransient says so.
func NewExternalServiceError(op string, err error) *ExternalServiceError {
	return &ExternalServiceError{Op: op, Transient: IsTransient(err), Err: err}
}

func (e *ExternalServiceError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s external service error: %v", e.Op, kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As compatibility.
func (e *ExternalServiceError) Unwrap() error { return e.Err }

// ValidationError captures a structured payload that failed validation.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
	Schema  any    `json:"schema"`
}

// Error returns formatted validation error with field-specific context.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Unwrap lets callers match ErrJSONValidation.
func (e *ValidationError) Unwrap() error { return ErrJSONValidation }

// GetRetryAfter extracts a provider or limiter supplied retry-after
// duration, or zero when none is available.
func GetRetryAfter(err error) time.Duration {
	if err == nil {
		return 0
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return rateLimitErr.GetRetryAfter()
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.GetRetryAfter()
	}

	return 0
}
