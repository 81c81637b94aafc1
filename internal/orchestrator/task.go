package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahrav/go-charstates/internal/domain"
	"github.com/ahrav/go-charstates/internal/metrics"
	"github.com/ahrav/go-charstates/internal/prompt"
	"github.com/ahrav/go-charstates/internal/retry"
)

var (
	// ErrClientPanic wraps a panic recovered from an Extractor or Evaluator.
	ErrClientPanic = errors.New("client panicked")

	errNilExtractor = errors.New("extractor must not be nil")
	errNilEvaluator = errors.New("evaluator must not be nil")
	errNilPolicy    = errors.New("retry policy must not be nil")
)

// taskState is a node of the per-item state machine. Retrying is not a
// state of its own: a retry decision moves straight back to extracting.
type taskState uint8

const (
	stateExtracting taskState = iota
	stateEvaluating
	stateAccepted
	stateGivenUp
)

func (s taskState) terminal() bool { return s == stateAccepted || s == stateGivenUp }

// Phase labels for metrics and logs.
const (
	phaseExtraction = "extraction"
	phaseEvaluation = "evaluation"
)

// TaskRunner drives one item through extract, evaluate and accept-or-retry
// until it reaches a terminal outcome. A TaskRunner holds no per-item state
// and may run any number of items concurrently.
type TaskRunner struct {
	ext     Extractor
	eval    Evaluator
	policy  *retry.Policy
	prompts *prompt.Builder
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewTaskRunner creates a TaskRunner. The clients are shared across items.
func NewTaskRunner(ext Extractor, eval Evaluator, policy *retry.Policy, opts ...Option) (*TaskRunner, error) {
	switch {
	case ext == nil:
		return nil, errNilExtractor
	case eval == nil:
		return nil, errNilEvaluator
	case policy == nil:
		return nil, errNilPolicy
	}
	o := buildOptions(opts)
	return &TaskRunner{
		ext:     ext,
		eval:    eval,
		policy:  policy,
		prompts: o.prompts,
		logger:  o.logger.With("component", "task_runner"),
		metrics: o.metrics,
	}, nil
}

// item is the mutable state of a single Run call. It never escapes the
// goroutine running it.
type item struct {
	idx     domain.ItemIndex
	attempt retry.Attempt
	history []domain.AttemptRecord
	current domain.ExtractionResult
	calls   int
	lastErr error
	outcome domain.TaskOutcome
	logger  *slog.Logger
}

func (it *item) giveUp(reason domain.FailureReason) taskState {
	it.outcome = domain.Failed(it.idx, reason)
	return stateGivenUp
}

// Run processes idx to a terminal outcome. It never panics and never
// returns an error: every failure is absorbed into a Failed outcome.
// Once ctx is cancelled the task stops after the call in flight returns.
func (r *TaskRunner) Run(ctx context.Context, idx domain.ItemIndex) domain.TaskOutcome {
	start := time.Now()
	it := &item{idx: idx, logger: r.logger.With("item", int(idx))}

	state := stateExtracting
	for !state.terminal() {
		if ctx.Err() != nil {
			state = it.giveUp(domain.FailureCancelled)
			break
		}
		switch state {
		case stateExtracting:
			state = r.extract(ctx, it)
		case stateEvaluating:
			state = r.evaluate(ctx, it)
		}
	}

	out := it.outcome
	out.Attempts = it.calls
	out.Duration = time.Since(start)
	if it.lastErr != nil {
		out.LastError = it.lastErr.Error()
	}

	it.logger.Debug("task finished",
		"outcome", out.Kind.String(),
		"reason", out.Reason,
		"attempts", out.Attempts,
		"duration_ms", out.Duration.Milliseconds())
	return out
}

func (r *TaskRunner) extract(ctx context.Context, it *item) taskState {
	p, err := r.prompts.Extraction(it.idx, it.history)
	if err != nil {
		it.lastErr = err
		it.logger.Error("cannot render extraction prompt", "error", err)
		return it.giveUp(domain.FailureExternalError)
	}

	it.calls++
	r.metrics.Attempt(phaseExtraction)
	ext, err := guard(func() (domain.ExtractionResult, error) { return r.ext.Extract(ctx, p) })
	if err == nil {
		err = ext.Validate()
	}
	if err != nil {
		return r.handleFailure(ctx, it, phaseExtraction, err)
	}

	it.current = ext
	return stateEvaluating
}

func (r *TaskRunner) evaluate(ctx context.Context, it *item) taskState {
	p, err := r.prompts.Evaluation(it.current)
	if err != nil {
		it.lastErr = err
		it.logger.Error("cannot render evaluation prompt", "error", err)
		return it.giveUp(domain.FailureExternalError)
	}

	r.metrics.Attempt(phaseEvaluation)
	ev, err := guard(func() (domain.EvaluationResult, error) { return r.eval.Evaluate(ctx, p) })
	if err == nil {
		err = ev.Validate()
	}
	if err != nil {
		// The extraction is discarded; a fresh one is made on retry.
		return r.handleFailure(ctx, it, phaseEvaluation, err)
	}

	outcome := r.policy.Classify(ev.Score)
	d := r.policy.Decide(it.attempt, outcome)
	switch d.Action {
	case retry.ActionAccept:
		it.outcome = domain.Accepted(it.idx, it.current, ev)
		return stateAccepted

	case retry.ActionRetry:
		prior := it.current.Clone()
		it.history = append(it.history, domain.AttemptRecord{
			AttemptNumber: it.attempt.Content + 1,
			Prior:         &prior,
			Evaluation:    &ev,
		})
		it.attempt.Content++
		r.metrics.Retry(outcome.Kind.String(), 0)
		it.logger.Debug("extraction rejected",
			"score", ev.Score,
			"attempt", it.attempt.Content)
		return stateExtracting

	default:
		it.logger.Info("extraction rejected on final attempt", "score", ev.Score)
		return it.giveUp(domain.FailureLowScore)
	}
}

// handleFailure consults the policy after a failed call, sleeps the backoff
// and advances the matching counter.
func (r *TaskRunner) handleFailure(ctx context.Context, it *item, phase string, err error) taskState {
	it.lastErr = err
	if ctx.Err() != nil {
		return it.giveUp(domain.FailureCancelled)
	}

	outcome := retry.OutcomeFromError(err)
	d := r.policy.Decide(it.attempt, outcome)
	if d.Action != retry.ActionRetry {
		reason := domain.FailureExternalError
		if outcome.Kind == retry.OutcomeRateLimited {
			reason = domain.FailureRateLimited
		}
		it.logger.Warn("giving up after external errors",
			"phase", phase,
			"reason", reason,
			"error", err)
		return it.giveUp(reason)
	}

	r.metrics.Retry(outcome.Kind.String(), d.Delay)
	it.logger.Debug("retrying after external error",
		"phase", phase,
		"kind", outcome.Kind.String(),
		"delay", d.Delay,
		"error", err)

	if werr := retry.Wait(ctx, d.Delay); werr != nil {
		return it.giveUp(domain.FailureCancelled)
	}

	if d.ConsumesAttempt {
		it.attempt.Content++
	} else {
		it.attempt.RateLimited++
	}
	return stateExtracting
}

// guard converts a panic inside a client call into an error.
func guard[T any](call func() (T, error)) (res T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrClientPanic, p)
		}
	}()
	return call()
}
