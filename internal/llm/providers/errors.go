package providers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	llmerrors "github.com/ahrav/go-charstates/internal/llm/errors"
)

// Provider adapter errors.
var (
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrMissingAPIKey        = errors.New("missing API key")
)

// ServerErrorStatusThreshold defines the HTTP status code threshold for server errors.
const ServerErrorStatusThreshold = 500

// classifyErrorType determines ErrorType from HTTP status and provider error
// codes. Provider codes win over the status code.
func classifyErrorType(statusCode int, errorCode string) llmerrors.ErrorType {
	lowerCode := strings.ToLower(errorCode)
	switch {
	case strings.Contains(lowerCode, "resource_exhausted"), strings.Contains(lowerCode, "quota"):
		return llmerrors.ErrorTypeQuota
	case strings.Contains(lowerCode, "rate") || strings.Contains(lowerCode, "limit"):
		return llmerrors.ErrorTypeRateLimit
	case strings.Contains(lowerCode, "timeout"), strings.Contains(lowerCode, "deadline"):
		return llmerrors.ErrorTypeTimeout
	case strings.Contains(lowerCode, "auth"), strings.Contains(lowerCode, "unauthenticated"),
		strings.Contains(lowerCode, "permission"):
		return llmerrors.ErrorTypeAuth
	case strings.Contains(lowerCode, "unavailable"):
		return llmerrors.ErrorTypeProvider
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return llmerrors.ErrorTypeRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		return llmerrors.ErrorTypeAuth
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return llmerrors.ErrorTypeTimeout
	case http.StatusBadRequest:
		return llmerrors.ErrorTypeValidation
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return llmerrors.ErrorTypeProvider
	default:
		if statusCode >= ServerErrorStatusThreshold {
			return llmerrors.ErrorTypeProvider
		}
		return llmerrors.ErrorTypeUnknown
	}
}

// parseGoogleError converts a Gemini error body into a ProviderError.
func parseGoogleError(statusCode int, header http.Header, body []byte) error {
	retryAfter := parseRetryAfter(header)

	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return &llmerrors.ProviderError{
			Provider:   ProviderGoogle,
			StatusCode: statusCode,
			Message:    errResp.Error.Message,
			Code:       errResp.Error.Status,
			Type:       classifyErrorType(statusCode, errResp.Error.Status),
			RetryAfter: retryAfter,
		}
	}

	return &llmerrors.ProviderError{
		Provider:   ProviderGoogle,
		StatusCode: statusCode,
		Message:    string(body),
		Type:       classifyErrorType(statusCode, ""),
		RetryAfter: retryAfter,
	}
}

// parseRetryAfter reads a delta-seconds Retry-After header. HTTP dates are
// ignored.
func parseRetryAfter(header http.Header) int {
	if header == nil {
		return 0
	}
	v := strings.TrimSpace(header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return secs
}
