package orchestrator

import (
	"context"
	"log/slog"
	"time"

	llmerrors "github.com/ahrav/go-charstates/internal/llm/errors"
)

// Instrument runs fn as a named step, logging its start, its duration and
// either its completion or its classified failure. The error is returned
// unchanged.
func Instrument[T any](ctx context.Context, logger *slog.Logger, name string, fn func(context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "step started", "step", name)

	start := time.Now()
	res, err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil {
		errType := llmerrors.ErrorTypeUnknown
		if wfErr := llmerrors.ClassifyLLMError(err); wfErr != nil {
			errType = wfErr.Type
		}
		logger.ErrorContext(ctx, "step failed",
			"step", name,
			"duration_ms", elapsed.Milliseconds(),
			"error_type", errType,
			"error", err)
		return res, err
	}

	logger.InfoContext(ctx, "step completed",
		"step", name,
		"duration_ms", elapsed.Milliseconds())
	return res, nil
}
