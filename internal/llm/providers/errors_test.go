package providers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmerrors "github.com/ahrav/go-charstates/internal/llm/errors"
)

func TestClassifyErrorType(t *testing.T) {
	tests := []struct {
		name         string
		statusCode   int
		errorCode    string
		expectedType llmerrors.ErrorType
	}{
		{name: "resource exhausted code is quota", statusCode: http.StatusTooManyRequests, errorCode: "RESOURCE_EXHAUSTED", expectedType: llmerrors.ErrorTypeQuota},
		{name: "rate code wins over status", statusCode: http.StatusOK, errorCode: "rate_limit_exceeded", expectedType: llmerrors.ErrorTypeRateLimit},
		{name: "deadline code is timeout", statusCode: http.StatusOK, errorCode: "DEADLINE_EXCEEDED", expectedType: llmerrors.ErrorTypeTimeout},
		{name: "permission code is auth", statusCode: http.StatusOK, errorCode: "PERMISSION_DENIED", expectedType: llmerrors.ErrorTypeAuth},
		{name: "unavailable code is provider", statusCode: http.StatusOK, errorCode: "UNAVAILABLE", expectedType: llmerrors.ErrorTypeProvider},
		{name: "429 status", statusCode: http.StatusTooManyRequests, expectedType: llmerrors.ErrorTypeRateLimit},
		{name: "401 status", statusCode: http.StatusUnauthorized, expectedType: llmerrors.ErrorTypeAuth},
		{name: "403 status", statusCode: http.StatusForbidden, expectedType: llmerrors.ErrorTypeAuth},
		{name: "504 status", statusCode: http.StatusGatewayTimeout, expectedType: llmerrors.ErrorTypeTimeout},
		{name: "400 status", statusCode: http.StatusBadRequest, expectedType: llmerrors.ErrorTypeValidation},
		{name: "503 status", statusCode: http.StatusServiceUnavailable, expectedType: llmerrors.ErrorTypeProvider},
		{name: "other 5xx status", statusCode: 599, expectedType: llmerrors.ErrorTypeProvider},
		{name: "other 4xx status", statusCode: http.StatusTeapot, expectedType: llmerrors.ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedType, classifyErrorType(tt.statusCode, tt.errorCode))
		})
	}
}

func TestParseGoogleError(t *testing.T) {
	t.Run("structured body with retry after", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", "7")
		body := []byte(`{"error":{"code":429,"message":"You exceeded your current quota","status":"RESOURCE_EXHAUSTED"}}`)

		err := parseGoogleError(http.StatusTooManyRequests, h, body)

		var provErr *llmerrors.ProviderError
		require.ErrorAs(t, err, &provErr)
		assert.Equal(t, ProviderGoogle, provErr.Provider)
		assert.Equal(t, "RESOURCE_EXHAUSTED", provErr.Code)
		assert.Equal(t, llmerrors.ErrorTypeQuota, provErr.Type)
		assert.Equal(t, 7, provErr.RetryAfter)
		assert.True(t, llmerrors.IsTransient(err))
	})

	t.Run("unstructured body", func(t *testing.T) {
		err := parseGoogleError(http.StatusBadGateway, nil, []byte("bad gateway"))

		var provErr *llmerrors.ProviderError
		require.ErrorAs(t, err, &provErr)
		assert.Equal(t, "bad gateway", provErr.Message)
		assert.Equal(t, llmerrors.ErrorTypeProvider, provErr.Type)
		assert.False(t, llmerrors.IsTransient(err))
	})
}

func TestParseRetryAfter(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, 0, parseRetryAfter(h))
	h.Set("Retry-After", "12")
	assert.Equal(t, 12, parseRetryAfter(h))
	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	assert.Equal(t, 0, parseRetryAfter(h))
	h.Set("Retry-After", "-3")
	assert.Equal(t, 0, parseRetryAfter(h))
}
