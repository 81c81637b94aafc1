package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmerrors "github.com/ahrav/go-charstates/internal/llm/errors"
	"github.com/ahrav/go-charstates/internal/llm/transport"
	"github.com/ahrav/go-charstates/internal/metrics"
)

func decodeLogLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		lines = append(lines, entry)
	}
	return lines
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLoggingMiddleware_Success(t *testing.T) {
	var buf bytes.Buffer
	m := metrics.New(prometheus.NewRegistry())
	next := transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return &transport.Response{
			Content:      strings.Repeat("x", responsePreviewLimit+50),
			FinishReason: "STOP",
			Usage:        transport.NormalizedUsage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14},
		}, nil
	})

	h := NewLoggingMiddleware(newTestLogger(&buf), m, false)(next)
	req := &transport.Request{Operation: transport.OpExtraction, Provider: "google", Model: "flash", Prompt: "secret prompt"}
	_, err := h.Handle(context.Background(), req)
	require.NoError(t, err)

	assert.NotEmpty(t, req.TraceID, "a trace id is assigned when missing")
	assert.InDelta(t, 1, testutil.ToFloat64(m.LLMRequestsTotal.WithLabelValues("extraction", "ok")), 0)

	lines := decodeLogLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "LLM request started", lines[0]["msg"])
	assert.Equal(t, "secret prompt", lines[0]["prompt"])
	assert.Equal(t, "LLM request completed", lines[1]["msg"])
	assert.Equal(t, "llm", lines[1]["component"])
	assert.True(t, strings.HasSuffix(lines[1]["response_preview"].(string), "..."))
	assert.Len(t, lines[1]["response_preview"], responsePreviewLimit+3)
}

func TestLoggingMiddleware_RedactsPrompts(t *testing.T) {
	var buf bytes.Buffer
	next := transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return &transport.Response{Content: "answer"}, nil
	})

	h := NewLoggingMiddleware(newTestLogger(&buf), nil, true)(next)
	_, err := h.Handle(context.Background(), &transport.Request{Operation: transport.OpEvaluation, Prompt: "secret prompt"})
	require.NoError(t, err)

	out := buf.String()
	assert.NotContains(t, out, "secret prompt")
	assert.NotContains(t, out, "answer\"")
	lines := decodeLogLines(t, &buf)
	assert.InDelta(t, len("secret prompt"), lines[0]["prompt_length"], 0)
	assert.InDelta(t, len("answer"), lines[1]["response_length"], 0)
}

func TestLoggingMiddleware_ErrorLevels(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantLevel string
		wantLabel string
	}{
		{
			name:      "rate limit is logged as a warning",
			err:       &llmerrors.RateLimitError{Provider: "google", RetryAfter: 3},
			wantLevel: "WARN",
			wantLabel: string(llmerrors.ErrorTypeRateLimit),
		},
		{
			name:      "authentication failure is logged as an error",
			err:       &llmerrors.ProviderError{Provider: "google", StatusCode: 401, Message: "bad key", Type: llmerrors.ErrorTypeAuth},
			wantLevel: "ERROR",
			wantLabel: string(llmerrors.ErrorTypeAuth),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			m := metrics.New(prometheus.NewRegistry())
			next := transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
				return nil, tt.err
			})

			h := NewLoggingMiddleware(newTestLogger(&buf), m, false)(next)
			_, err := h.Handle(context.Background(), &transport.Request{Operation: transport.OpExtraction, Timeout: time.Second})
			require.True(t, errors.Is(err, tt.err))

			lines := decodeLogLines(t, &buf)
			require.Len(t, lines, 2)
			assert.Equal(t, tt.wantLevel, lines[1]["level"])
			assert.Equal(t, tt.wantLabel, lines[1]["error_type"])
			assert.InDelta(t, 1, testutil.ToFloat64(m.LLMRequestsTotal.WithLabelValues("extraction", tt.wantLabel)), 0)
		})
	}
}
