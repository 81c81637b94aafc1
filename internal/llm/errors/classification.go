package errors

import (
	"context"
	"errors"
	"strings"
)

// transientMarkers are the lowercase substrings that identify a rate or
// quota condition in an untyped error. The provider SDKs surface these as
// plain text, so a substring match is the only portable signal.
var transientMarkers = []string{
	"429",
	"exceeded your current quota",
	"resource_exhausted",
	"resource exhausted",
	"rate limit",
	"too many requests",
}

// IsTransient reports whether err signals a rate-limit or quota condition.
// Typed errors are checked first; anything else falls back to a
// case-insensitive substring match on the error text. Context cancellation
// is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var extErr *ExternalServiceError
	if errors.As(err, &extErr) && extErr.Transient {
		return true
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) && provErr.IsTransient() {
		return true
	}

	if errors.Is(err, ErrRateLimitExceeded) {
		return true
	}

	return containsTransientMarker(err.Error())
}

func containsTransientMarker(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ClassifyLLMError transforms an external service error into a WorkflowError
// carrying a type label for logs and metrics. Examines typed errors first,
// then sentinels, then message patterns.
func ClassifyLLMError(err error) *WorkflowError {
	if err == nil {
		return nil
	}

	if workflowErr := classifyTypedErrors(err); workflowErr != nil {
		return workflowErr
	}

	if workflowErr := classifySentinelErrors(err); workflowErr != nil {
		return workflowErr
	}

	return classifyStringPatternErrors(err)
}

// classifyTypedErrors handles ProviderError, RateLimitError and
// ValidationError.
func classifyTypedErrors(err error) *WorkflowError {
	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return &WorkflowError{
			Type:      ErrorTypeRateLimit,
			Message:   rateLimitErr.Error(),
			Code:      "RATE_LIMIT",
			Retryable: true,
			Details: map[string]any{
				"provider":    rateLimitErr.Provider,
				"retry_after": rateLimitErr.RetryAfter,
			},
			Cause: err,
		}
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		typ := providerErr.Type
		if typ == "" {
			typ = ErrorTypeProvider
		}
		return &WorkflowError{
			Type:      typ,
			Message:   providerErr.Message,
			Code:      providerErr.Code,
			Retryable: true,
			Details: map[string]any{
				"provider":    providerErr.Provider,
				"status_code": providerErr.StatusCode,
			},
			Cause: err,
		}
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return &WorkflowError{
			Type:      ErrorTypeValidation,
			Message:   valErr.Error(),
			Code:      "VALIDATION",
			Retryable: true,
			Details:   map[string]any{"field": valErr.Field},
			Cause:     err,
		}
	}

	return nil
}

func classifySentinelErrors(err error) *WorkflowError {
	switch {
	case errors.Is(err, context.Canceled):
		return &WorkflowError{
			Type:      ErrorTypeTimeout,
			Message:   err.Error(),
			Code:      "CANCELLED",
			Retryable: false,
			Cause:     err,
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &WorkflowError{
			Type:      ErrorTypeTimeout,
			Message:   err.Error(),
			Code:      "DEADLINE",
			Retryable: true,
			Cause:     err,
		}
	case errors.Is(err, ErrRateLimitExceeded):
		return &WorkflowError{
			Type:      ErrorTypeRateLimit,
			Message:   err.Error(),
			Code:      "RATE_LIMIT",
			Retryable: true,
			Cause:     err,
		}
	case errors.Is(err, ErrProviderUnavailable):
		return &WorkflowError{
			Type:      ErrorTypeProvider,
			Message:   err.Error(),
			Code:      "PROVIDER_UNAVAILABLE",
			Retryable: true,
			Cause:     err,
		}
	case errors.Is(err, ErrJSONValidation), errors.Is(err, ErrInvalidResponse):
		return &WorkflowError{
			Type:      ErrorTypeValidation,
			Message:   err.Error(),
			Code:      "INVALID_RESPONSE",
			Retryable: true,
			Cause:     err,
		}
	}

	return nil
}

// classifyStringPatternErrors handles untyped errors by message pattern.
// Everything not cancelled is retryable: the retry policy, not the
// classifier, bounds how often.
func classifyStringPatternErrors(err error) *WorkflowError {
	errMsg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errMsg, "quota"):
		return &WorkflowError{
			Type:      ErrorTypeQuota,
			Message:   "Quota exceeded",
			Code:      "QUOTA_EXCEEDED",
			Retryable: true,
			Details:   map[string]any{"original_error": err.Error()},
			Cause:     err,
		}
	case containsTransientMarker(errMsg):
		return &WorkflowError{
			Type:      ErrorTypeRateLimit,
			Message:   "Rate limit exceeded",
			Code:      "RATE_LIMIT",
			Retryable: true,
			Details:   map[string]any{"original_error": err.Error()},
			Cause:     err,
		}
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline"):
		return &WorkflowError{
			Type:      ErrorTypeTimeout,
			Message:   "Request timeout",
			Code:      "TIMEOUT",
			Retryable: true,
			Details:   map[string]any{"original_error": err.Error()},
			Cause:     err,
		}
	case strings.Contains(errMsg, "unauthorized") || strings.Contains(errMsg, "api key"):
		return &WorkflowError{
			Type:      ErrorTypeAuth,
			Message:   "Authentication failed",
			Code:      "AUTH_FAILED",
			Retryable: true,
			Details:   map[string]any{"original_error": err.Error()},
			Cause:     err,
		}
	case strings.Contains(errMsg, "network") || strings.Contains(errMsg, "connection"):
		return &WorkflowError{
			Type:      ErrorTypeNetwork,
			Message:   "Network error",
			Code:      "NETWORK_ERROR",
			Retryable: true,
			Details:   map[string]any{"original_error": err.Error()},
			Cause:     err,
		}
	default:
		return &WorkflowError{
			Type:      ErrorTypeUnknown,
			Message:   "Unknown error",
			Code:      "UNKNOWN",
			Retryable: true,
			Details:   map[string]any{"original_error": err.Error()},
			Cause:     err,
		}
	}
}
