package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	llmerrors "github.com/ahrav/go-charstates/internal/llm/errors"
	"github.com/ahrav/go-charstates/internal/llm/transport"
	"github.com/ahrav/go-charstates/internal/metrics"
)

// responsePreviewLimit caps the response text logged when prompts are not
// redacted.
const responsePreviewLimit = 200

// LoggingMiddleware logs the lifecycle of every model request and records
// request counts and latency.
type LoggingMiddleware struct {
	logger        *slog.Logger
	metrics       *metrics.Metrics
	redactPrompts bool
}

// NewLoggingMiddleware creates the observability middleware. A nil logger
// falls back to slog.Default; nil metrics are skipped.
func NewLoggingMiddleware(logger *slog.Logger, m *metrics.Metrics, redactPrompts bool) transport.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	lm := &LoggingMiddleware{
		logger:        logger.With("component", "llm"),
		metrics:       m,
		redactPrompts: redactPrompts,
	}
	return lm.Middleware
}

// Middleware wraps next with request logging and metrics.
func (m *LoggingMiddleware) Middleware(next transport.Handler) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		requestID := req.TraceID
		if requestID == "" {
			requestID = uuid.NewString()
			req.TraceID = requestID
		}

		m.logRequest(ctx, req, requestID)

		start := time.Now()
		resp, err := next.Handle(ctx, req)
		duration := time.Since(start)

		if err != nil {
			m.handleError(ctx, req, err, requestID, duration)
		} else if resp != nil {
			m.handleSuccess(ctx, req, resp, requestID, duration)
		}
		return resp, err
	})
}

func (m *LoggingMiddleware) logRequest(ctx context.Context, req *transport.Request, requestID string) {
	fields := []any{
		"request_id", requestID,
		"provider", req.Provider,
		"model", req.Model,
		"operation", req.Operation,
		"timeout_seconds", req.Timeout.Seconds(),
		"cached_content", req.CachedContent != "",
	}
	if m.redactPrompts {
		fields = append(fields, "prompt_length", len(req.Prompt))
	} else {
		fields = append(fields, "prompt", req.Prompt)
	}
	m.logger.DebugContext(ctx, "LLM request started", fields...)
}

func (m *LoggingMiddleware) handleError(
	ctx context.Context,
	req *transport.Request,
	err error,
	requestID string,
	duration time.Duration,
) {
	errorType := llmerrors.ErrorTypeUnknown
	if wfErr := llmerrors.ClassifyLLMError(err); wfErr != nil {
		errorType = wfErr.Type
	}
	m.metrics.LLMRequest(string(req.Operation), string(errorType), duration)

	level := slog.LevelError
	if llmerrors.IsTransient(err) || ctx.Err() != nil {
		level = slog.LevelWarn
	}
	m.logger.Log(ctx, level, "LLM request failed",
		"request_id", requestID,
		"provider", req.Provider,
		"model", req.Model,
		"operation", req.Operation,
		"duration_ms", duration.Milliseconds(),
		"error_type", errorType,
		"transient", llmerrors.IsTransient(err),
		"error", err.Error(),
	)
}

func (m *LoggingMiddleware) handleSuccess(
	ctx context.Context,
	req *transport.Request,
	resp *transport.Response,
	requestID string,
	duration time.Duration,
) {
	m.metrics.LLMRequest(string(req.Operation), "ok", duration)

	fields := []any{
		"request_id", requestID,
		"provider", req.Provider,
		"model", req.Model,
		"operation", req.Operation,
		"duration_ms", duration.Milliseconds(),
		"finish_reason", resp.FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"cached_tokens", resp.Usage.CachedTokens,
		"total_tokens", resp.Usage.TotalTokens,
		"provider_request_ids", strings.Join(resp.ProviderRequestIDs, ","),
	}
	if m.redactPrompts {
		fields = append(fields, "response_length", len(resp.Content))
	} else {
		content := resp.Content
		if len(content) > responsePreviewLimit {
			content = content[:responsePreviewLimit] + "..."
		}
		fields = append(fields, "response_preview", content)
	}
	m.logger.InfoContext(ctx, "LLM request completed", fields...)
}
