// Package llm is the extraction and evaluation client. It maps prompts to
// provider requests, sends them through a middleware chain (logging, rate
// limiting, HTTP core) and decodes the structured JSON answers.
//
// Architecture:
//   - Provider-agnostic transport with an adapter per provider
//   - Context supply chosen once at construction (none, inline text, uploaded file)
//   - Optional provider-side context cache per model, with silent fallback
//   - Request/response only; retries belong to the caller's retry policy
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-charstates/internal/domain"
	llmerrors "github.com/ahrav/go-charstates/internal/llm/errors"
	"github.com/ahrav/go-charstates/internal/llm/providers"
	"github.com/ahrav/go-charstates/internal/llm/transport"
	"github.com/ahrav/go-charstates/internal/metrics"
)

// Client defaults.
const (
	// DefaultTimeout bounds one generateContent call.
	DefaultTimeout = 120 * time.Second

	// DefaultCacheTTL is the lifetime of a provider context cache.
	DefaultCacheTTL = time.Hour

	// DefaultTemperature keeps extraction output stable across attempts.
	DefaultTemperature = 0.0

	// DefaultMaxIdleConns sizes the HTTP transport idle pool.
	DefaultMaxIdleConns = 100

	// DefaultIdleTimeoutSeconds closes idle connections.
	DefaultIdleTimeoutSeconds = 90

	// DefaultTLSTimeoutSeconds bounds the TLS handshake.
	DefaultTLSTimeoutSeconds = 10

	defaultResourceCallTimeout = 5 * time.Minute
)

// Operation names used in errors, logs and metrics.
const (
	// OpExtract names the extraction call.
	OpExtract = "extract"

	// OpEvaluate names the evaluation call.
	OpEvaluate = "evaluate"
)

// Client construction errors.
var (
	ErrMissingContext = errors.New("context mode requires a context source")
	ErrMissingModel   = errors.New("extraction and evaluation models are required")
)

// ContextMode selects how the source document reaches the model.
type ContextMode uint8

const (
	// ContextNone sends prompts without a source document.
	ContextNone ContextMode = iota

	// ContextInlineText sends the document text as an extra content part.
	ContextInlineText

	// ContextUploadedFile uploads the document once and references it by URI.
	ContextUploadedFile
)

// String returns the string representation of a ContextMode.
func (m ContextMode) String() string {
	switch m {
	case ContextNone:
		return "none"
	case ContextInlineText:
		return "inline_text"
	case ContextUploadedFile:
		return "uploaded_file"
	default:
		return "unknown"
	}
}

// ParseContextMode maps a configuration string to a ContextMode.
func ParseContextMode(s string) (ContextMode, error) {
	switch s {
	case "", "none":
		return ContextNone, nil
	case "inline_text", "text":
		return ContextInlineText, nil
	case "uploaded_file", "file":
		return ContextUploadedFile, nil
	default:
		return ContextNone, fmt.Errorf("unknown context mode %q", s)
	}
}

// ContextSource is the document supplied to both models.
type ContextSource struct {
	Mode        ContextMode
	Text        string
	Data        []byte
	MIMEType    string
	DisplayName string
}

// Config configures a Client.
type Config struct {
	Provider        string
	ExtractionModel string
	EvaluationModel string
	SystemPrompt    string
	Temperature     float64
	Timeout         time.Duration

	Context  ContextSource
	UseCache bool
	CacheTTL time.Duration

	RedactPrompts bool
}

// ContextStore manages provider-side resources: uploaded files and context
// caches. *providers.GoogleResources implements it.
type ContextStore interface {
	UploadFile(ctx context.Context, displayName, mimeType string, data []byte) (providers.FileRef, error)
	CreateCache(ctx context.Context, spec providers.CacheSpec) (string, error)
	DeleteCache(ctx context.Context, name string) error
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient  *http.Client
	logger      *slog.Logger
	metrics     *metrics.Metrics
	store       ContextStore
	middlewares []transport.Middleware
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(o *clientOptions) { o.httpClient = c } }

// WithLogger sets the logger used by the client and its logging middleware.
func WithLogger(l *slog.Logger) Option { return func(o *clientOptions) { o.logger = l } }

// WithMetrics records per-request metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(o *clientOptions) { o.metrics = m } }

// WithContextStore overrides the provider resource manager.
func WithContextStore(s ContextStore) Option { return func(o *clientOptions) { o.store = s } }

// WithMiddleware adds middleware between the logging layer and the HTTP
// core, for example a rate limiter.
func WithMiddleware(mw ...transport.Middleware) Option {
	return func(o *clientOptions) { o.middlewares = append(o.middlewares, mw...) }
}

// Client implements the orchestrator's Extractor and Evaluator. It is safe
// for concurrent use.
type Client struct {
	cfg     Config
	handler transport.Handler
	store   ContextStore
	logger  *slog.Logger

	file   *providers.FileRef
	caches map[string]string
}

// NewClient builds the handler chain and resolves the context supply once:
// the document is uploaded for ContextUploadedFile, and when UseCache is set
// a context cache is created per model. A failed cache creation is logged
// and that model falls back to uncached requests.
func NewClient(ctx context.Context, cfg Config, provider providers.Config, opts ...Option) (*Client, error) {
	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if cfg.Provider == "" {
		cfg.Provider = providers.ProviderGoogle
	}
	if cfg.ExtractionModel == "" || cfg.EvaluationModel == "" {
		return nil, ErrMissingModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if provider.Timeout <= 0 {
		provider.Timeout = cfg.Timeout
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          DefaultMaxIdleConns,
				IdleConnTimeout:       DefaultIdleTimeoutSeconds * time.Second,
				TLSHandshakeTimeout:   DefaultTLSTimeoutSeconds * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		}
	}

	router, err := providers.NewRouter(map[string]providers.Config{cfg.Provider: provider})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize router: %w", err)
	}

	middlewares := append([]transport.Middleware{
		NewLoggingMiddleware(o.logger, o.metrics, cfg.RedactPrompts),
	}, o.middlewares...)

	c := &Client{
		cfg:     cfg,
		handler: transport.Chain(transport.NewHTTPHandler(httpClient, router), middlewares...),
		store:   o.store,
		logger:  o.logger.With("component", "llm"),
		caches:  make(map[string]string),
	}
	if c.store == nil {
		c.store = providers.NewGoogleResources(provider, httpClient)
	}

	if err := c.resolveContext(ctx); err != nil {
		return nil, err
	}
	if cfg.UseCache {
		c.createCaches(ctx)
	}
	return c, nil
}

func (c *Client) resolveContext(ctx context.Context) error {
	src := c.cfg.Context
	switch src.Mode {
	case ContextNone:
		return nil
	case ContextInlineText:
		if src.Text == "" {
			return fmt.Errorf("%w: %s", ErrMissingContext, src.Mode)
		}
		return nil
	case ContextUploadedFile:
		if len(src.Data) == 0 {
			return fmt.Errorf("%w: %s", ErrMissingContext, src.Mode)
		}
		ctx, cancel := context.WithTimeout(ctx, defaultResourceCallTimeout)
		defer cancel()
		ref, err := c.store.UploadFile(ctx, src.DisplayName, src.MIMEType, src.Data)
		if err != nil {
			return llmerrors.NewExternalServiceError("upload_context", err)
		}
		c.file = &ref
		c.logger.Info("context file uploaded", "name", ref.Name, "mime_type", ref.MIMEType, "bytes", len(src.Data))
		return nil
	default:
		return fmt.Errorf("unknown context mode %d", src.Mode)
	}
}

func (c *Client) createCaches(ctx context.Context) {
	for _, model := range []string{c.cfg.ExtractionModel, c.cfg.EvaluationModel} {
		if _, done := c.caches[model]; done {
			continue
		}
		spec := providers.CacheSpec{
			Model:        model,
			SystemPrompt: c.cfg.SystemPrompt,
			File:         c.file,
			TTL:          c.cfg.CacheTTL,
		}
		if c.cfg.Context.Mode == ContextInlineText {
			spec.ContextText = c.cfg.Context.Text
		}

		callCtx, cancel := context.WithTimeout(ctx, defaultResourceCallTimeout)
		name, err := c.store.CreateCache(callCtx, spec)
		cancel()
		if err != nil {
			c.logger.Warn("context cache unavailable, sending context with each request",
				"model", model, "error", err)
			continue
		}
		c.caches[model] = name
		c.logger.Info("context cache created", "model", model, "cache", name, "ttl", c.cfg.CacheTTL)
	}
}

// Mode returns the resolved context mode.
func (c *Client) Mode() ContextMode { return c.cfg.Context.Mode }

// CachedContent returns the cache name used for model, if any.
func (c *Client) CachedContent(model string) (string, bool) {
	name, ok := c.caches[model]
	return name, ok
}

// Extract asks the extraction model for a character and its states.
func (c *Client) Extract(ctx context.Context, prompt string) (domain.ExtractionResult, error) {
	resp, err := c.handler.Handle(ctx, c.request(transport.OpExtraction, c.cfg.ExtractionModel, prompt))
	if err != nil {
		return domain.ExtractionResult{}, llmerrors.NewExternalServiceError(OpExtract, err)
	}
	ext, err := ParseExtraction(resp.Content)
	if err != nil {
		return domain.ExtractionResult{}, llmerrors.NewExternalServiceError(OpExtract, err)
	}
	return ext, nil
}

// Evaluate asks the judge model to score an extraction.
func (c *Client) Evaluate(ctx context.Context, prompt string) (domain.EvaluationResult, error) {
	resp, err := c.handler.Handle(ctx, c.request(transport.OpEvaluation, c.cfg.EvaluationModel, prompt))
	if err != nil {
		return domain.EvaluationResult{}, llmerrors.NewExternalServiceError(OpEvaluate, err)
	}
	eval, err := ParseEvaluation(resp.Content)
	if err != nil {
		return domain.EvaluationResult{}, llmerrors.NewExternalServiceError(OpEvaluate, err)
	}
	return eval, nil
}

func (c *Client) request(op transport.OperationType, model, prompt string) *transport.Request {
	req := &transport.Request{
		Operation:    op,
		Provider:     c.cfg.Provider,
		Model:        model,
		SystemPrompt: c.cfg.SystemPrompt,
		Prompt:       prompt,
		Temperature:  c.cfg.Temperature,
		Timeout:      c.cfg.Timeout,
		TraceID:      uuid.NewString(),
	}
	if name, ok := c.caches[model]; ok {
		req.CachedContent = name
		return req
	}
	switch {
	case c.file != nil:
		req.FileURI = c.file.URI
		req.FileMIMEType = c.file.MIMEType
	case c.cfg.Context.Mode == ContextInlineText:
		req.ContextText = c.cfg.Context.Text
	}
	return req
}

// Close deletes the context caches created by NewClient. Errors are logged;
// the caches expire on their own after the TTL.
func (c *Client) Close(ctx context.Context) {
	for model, name := range c.caches {
		if err := c.store.DeleteCache(ctx, name); err != nil {
			c.logger.Warn("deleting context cache", "model", model, "cache", name, "error", err)
		}
	}
	clear(c.caches)
}
