package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUploadProtocol is returned when the upload session is not opened.
var ErrUploadProtocol = errors.New("upload session not started")

// FileRef identifies a file stored with the Gemini Files API.
type FileRef struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
}

// CacheSpec describes a cached-content resource: the model it is bound to,
// the system instruction, and one context source.
type CacheSpec struct {
	Model        string
	SystemPrompt string
	ContextText  string
	File         *FileRef
	TTL          time.Duration
}

// GoogleResources manages the long-lived Gemini resources a run needs:
// uploaded context files and context caches.
type GoogleResources struct {
	config Config
	client *http.Client
}

// NewGoogleResources creates a resource manager sharing the adapter's
// configuration.
func NewGoogleResources(cfg Config, client *http.Client) *GoogleResources {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultGoogleEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.UploadEndpoint == "" {
		cfg.UploadEndpoint = deriveUploadEndpoint(cfg.Endpoint)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &GoogleResources{config: cfg, client: client}
}

// deriveUploadEndpoint maps https://host/v1beta to https://host/upload/v1beta.
func deriveUploadEndpoint(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	u.Path = "/upload" + u.Path
	return u.String()
}

// UploadFile stores data with the Files API using the resumable protocol:
// one call to open the session and one to upload and finalize.
func (g *GoogleResources) UploadFile(ctx context.Context, displayName, mimeType string, data []byte) (FileRef, error) {
	if g.config.APIKey == "" {
		return FileRef{}, ErrMissingAPIKey
	}

	meta, err := json.Marshal(map[string]any{"file": map[string]string{"display_name": displayName}})
	if err != nil {
		return FileRef{}, fmt.Errorf("failed to marshal upload metadata: %w", err)
	}
	startURL := fmt.Sprintf("%s/files?key=%s", g.config.UploadEndpoint, url.QueryEscape(g.config.APIKey))
	start, err := http.NewRequestWithContext(ctx, http.MethodPost, startURL, bytes.NewReader(meta))
	if err != nil {
		return FileRef{}, fmt.Errorf("failed to create upload request: %w", err)
	}
	start.Header.Set("Content-Type", "application/json")
	start.Header.Set("X-Goog-Upload-Protocol", "resumable")
	start.Header.Set("X-Goog-Upload-Command", "start")
	start.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.Itoa(len(data)))
	start.Header.Set("X-Goog-Upload-Header-Content-Type", mimeType)

	startResp, err := g.do(start)
	if err != nil {
		return FileRef{}, err
	}
	sessionURL := startResp.header.Get("X-Goog-Upload-URL")
	if sessionURL == "" {
		return FileRef{}, ErrUploadProtocol
	}

	upload, err := http.NewRequestWithContext(ctx, http.MethodPost, sessionURL, bytes.NewReader(data))
	if err != nil {
		return FileRef{}, fmt.Errorf("failed to create upload request: %w", err)
	}
	upload.Header.Set("X-Goog-Upload-Offset", "0")
	upload.Header.Set("X-Goog-Upload-Command", "upload, finalize")

	uploadResp, err := g.do(upload)
	if err != nil {
		return FileRef{}, err
	}
	var out struct {
		File FileRef `json:"file"`
	}
	if err := json.Unmarshal(uploadResp.body, &out); err != nil {
		return FileRef{}, fmt.Errorf("failed to parse upload response: %w", err)
	}
	if out.File.URI == "" {
		return FileRef{}, fmt.Errorf("%w: upload response has no file uri", ErrUploadProtocol)
	}
	if out.File.MIMEType == "" {
		out.File.MIMEType = mimeType
	}
	return out.File, nil
}

// CreateCache creates a cached-content resource and returns its name, for
// example "cachedContents/abc123".
func (g *GoogleResources) CreateCache(ctx context.Context, spec CacheSpec) (string, error) {
	if g.config.APIKey == "" {
		return "", ErrMissingAPIKey
	}

	var parts []googlePart
	switch {
	case spec.File != nil:
		parts = append(parts, googlePart{FileData: &googleFileData{MIMEType: spec.File.MIMEType, FileURI: spec.File.URI}})
	case spec.ContextText != "":
		parts = append(parts, googlePart{Text: spec.ContextText})
	}

	body := map[string]any{
		"model": "models/" + spec.Model,
		"ttl":   fmt.Sprintf("%ds", int(spec.TTL.Seconds())),
	}
	if len(parts) > 0 {
		body["contents"] = []googleContent{{Role: "user", Parts: parts}}
	}
	if spec.SystemPrompt != "" {
		body["systemInstruction"] = googleContent{Parts: []googlePart{{Text: spec.SystemPrompt}}}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cache request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/cachedContents?key=%s", g.config.Endpoint, url.QueryEscape(g.config.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create cache request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.do(req)
	if err != nil {
		return "", err
	}
	var out struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", fmt.Errorf("failed to parse cache response: %w", err)
	}
	if out.Name == "" {
		return "", fmt.Errorf("cache response has no name: %s", resp.body)
	}
	return out.Name, nil
}

// DeleteCache removes a cached-content resource before its TTL expires.
func (g *GoogleResources) DeleteCache(ctx context.Context, name string) error {
	endpoint := fmt.Sprintf("%s/%s?key=%s", g.config.Endpoint, name, url.QueryEscape(g.config.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}
	_, err = g.do(req)
	return err
}

type rawResponse struct {
	header http.Header
	body   []byte
}

func (g *GoogleResources) do(req *http.Request) (*rawResponse, error) {
	for k, v := range g.config.Headers {
		req.Header.Set(k, v)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, parseGoogleError(resp.StatusCode, resp.Header, body)
	}
	return &rawResponse{header: resp.Header, body: body}, nil
}
