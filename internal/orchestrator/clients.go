package orchestrator

import (
	"context"

	"github.com/ahrav/go-charstates/internal/domain"
)

// Extractor produces a candidate extraction for a prompt. Implementations
// must be safe for concurrent use; one instance is shared by every worker.
// Failures should be *llmerrors.ExternalServiceError, although any error
// whose text carries a rate-limit marker is treated as transient.
type Extractor interface {
	Extract(ctx context.Context, prompt string) (domain.ExtractionResult, error)
}

// Evaluator scores a candidate extraction. Same concurrency and failure
// contract as Extractor.
type Evaluator interface {
	Evaluate(ctx context.Context, prompt string) (domain.EvaluationResult, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, prompt string) (domain.ExtractionResult, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, prompt string) (domain.ExtractionResult, error) {
	return f(ctx, prompt)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, prompt string) (domain.EvaluationResult, error)

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(ctx context.Context, prompt string) (domain.EvaluationResult, error) {
	return f(ctx, prompt)
}
