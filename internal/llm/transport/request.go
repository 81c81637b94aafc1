// Package transport defines the normalized request and response types that
// flow through the LLM middleware chain, and the core handler that turns them
// into provider HTTP calls.
package transport

import (
	"net/http"
	"time"
)

// OperationType differentiates extraction calls from evaluation calls.
// It is used for metrics labels, rate-limit keys and response schemas.
type OperationType string

const (
	// OpExtraction asks the model for a character label and its states.
	OpExtraction OperationType = "extraction"

	// OpEvaluation asks the judge model to score an extraction.
	OpEvaluation OperationType = "evaluation"
)

// Request is a provider-neutral model call.
type Request struct {
	Operation OperationType `json:"operation"`
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`

	// SystemPrompt is sent as the system instruction unless CachedContent is
	// set, in which case the cache already carries it.
	SystemPrompt string `json:"system_prompt,omitempty"`
	Prompt       string `json:"prompt"`

	// Exactly one context source is used per request. ContextText is sent
	// inline as an extra part; FileURI references a previously uploaded file;
	// CachedContent names a provider-side cache holding the context.
	ContextText   string `json:"context_text,omitempty"`
	FileURI       string `json:"file_uri,omitempty"`
	FileMIMEType  string `json:"file_mime_type,omitempty"`
	CachedContent string `json:"cached_content,omitempty"`

	// ResponseSchema constrains the model to structured JSON output.
	ResponseSchema map[string]any `json:"response_schema,omitempty"`

	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
	TraceID     string        `json:"trace_id"`
}

// Response is the normalized output of any provider.
type Response struct {
	Content            string          `json:"content"`
	FinishReason       string          `json:"finish_reason"`
	ProviderRequestIDs []string        `json:"provider_request_ids"`
	Usage              NormalizedUsage `json:"usage"`
	Headers            http.Header     `json:"-"`
}

// NormalizedUsage provides consistent usage metrics across providers.
type NormalizedUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	CachedTokens     int64 `json:"cached_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	LatencyMs        int64 `json:"latency_ms"`
}
