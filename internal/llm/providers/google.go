package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ahrav/go-charstates/internal/llm/transport"
)

// DefaultGoogleEndpoint is the Gemini REST root.
const DefaultGoogleEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// GoogleAdapter implements ProviderAdapter for the Gemini generateContent
// API with structured JSON output.
type GoogleAdapter struct {
	config Config
}

// NewGoogleAdapter creates a Gemini adapter. An empty endpoint falls back to
// DefaultGoogleEndpoint.
func NewGoogleAdapter(cfg Config) *GoogleAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultGoogleEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &GoogleAdapter{config: cfg}
}

// Name returns the provider identifier.
func (a *GoogleAdapter) Name() string { return ProviderGoogle }

type googlePart struct {
	Text     string          `json:"text,omitempty"`
	FileData *googleFileData `json:"fileData,omitempty"`
}

type googleFileData struct {
	MIMEType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googleGenerationConfig struct {
	Temperature      float64        `json:"temperature"`
	ResponseMIMEType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type googleGenerateRequest struct {
	Contents          []googleContent        `json:"contents"`
	SystemInstruction *googleContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  googleGenerationConfig `json:"generationConfig"`
	CachedContent     string                 `json:"cachedContent,omitempty"`
}

// Build creates a generateContent request. When CachedContent is set the
// system instruction and context already live in the cache and are omitted.
func (a *GoogleAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	if a.config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	schema := req.ResponseSchema
	if schema == nil {
		var err error
		if schema, err = SchemaFor(req.Operation); err != nil {
			return nil, err
		}
	}

	parts := make([]googlePart, 0, 2)
	if req.CachedContent == "" {
		switch {
		case req.FileURI != "":
			parts = append(parts, googlePart{FileData: &googleFileData{MIMEType: req.FileMIMEType, FileURI: req.FileURI}})
		case req.ContextText != "":
			parts = append(parts, googlePart{Text: req.ContextText})
		}
	}
	parts = append(parts, googlePart{Text: req.Prompt})

	body := googleGenerateRequest{
		Contents: []googleContent{{Role: "user", Parts: parts}},
		GenerationConfig: googleGenerationConfig{
			Temperature:      req.Temperature,
			ResponseMIMEType: "application/json",
			ResponseSchema:   schema,
		},
		CachedContent: req.CachedContent,
	}
	if req.SystemPrompt != "" && req.CachedContent == "" {
		body.SystemInstruction = &googleContent{Parts: []googlePart{{Text: req.SystemPrompt}}}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		a.config.Endpoint, url.PathEscape(req.Model), url.QueryEscape(a.config.APIKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// Parse extracts the first candidate's text and the usage metadata.
func (a *GoogleAdapter) Parse(httpResp *http.Response) (*transport.Response, error) {
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseGoogleError(httpResp.StatusCode, httpResp.Header, body)
	}

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount        int `json:"promptTokenCount"`
			CandidatesTokenCount    int `json:"candidatesTokenCount"`
			CachedContentTokenCount int `json:"cachedContentTokenCount"`
			TotalTokenCount         int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var content strings.Builder
	var finishReason string
	if len(resp.Candidates) > 0 {
		for _, p := range resp.Candidates[0].Content.Parts {
			content.WriteString(p.Text)
		}
		finishReason = strings.ToUpper(resp.Candidates[0].FinishReason)
	}

	var requestIDs []string
	if reqID := httpResp.Header.Get("x-goog-request-id"); reqID != "" {
		requestIDs = append(requestIDs, reqID)
	} else if reqID := httpResp.Header.Get("x-request-id"); reqID != "" {
		requestIDs = append(requestIDs, reqID)
	}

	return &transport.Response{
		Content:            content.String(),
		FinishReason:       finishReason,
		ProviderRequestIDs: requestIDs,
		Usage: transport.NormalizedUsage{
			PromptTokens:     int64(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
			CachedTokens:     int64(resp.UsageMetadata.CachedContentTokenCount),
			TotalTokens:      int64(resp.UsageMetadata.TotalTokenCount),
		},
		Headers: httpResp.Header,
	}, nil
}
