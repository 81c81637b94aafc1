// Package orchestrator fans one extraction task per item out over a bounded
// worker pool and partitions the outcomes into accepted and failed sets.
//
// Tasks may complete in any order. The orchestrator collects them in
// ascending item order, so progress callbacks and the RunResult sequences
// are deterministic for a given set of outcomes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-charstates/internal/domain"
	"github.com/ahrav/go-charstates/internal/metrics"
	"github.com/ahrav/go-charstates/internal/retry"
	"github.com/ahrav/go-charstates/pkg/events"
)

// MaxDefaultWorkers caps the worker count derived from the CPU count.
const MaxDefaultWorkers = 32

var errWorkersInvalid = errors.New("workers must be greater than 0")

// DefaultWorkers returns min(32, NumCPU+4).
func DefaultWorkers() int {
	return min(MaxDefaultWorkers, runtime.NumCPU()+4)
}

// Config is the explicit orchestration configuration.
type Config struct {
	// Workers bounds the number of concurrently running tasks. Zero selects
	// DefaultWorkers.
	Workers int
	Retry   retry.Config
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{Workers: DefaultWorkers(), Retry: retry.DefaultConfig()}
}

// ProgressFunc receives the fraction of items collected so far, in (0, 1].
type ProgressFunc func(fraction float64)

// Orchestrator runs extraction tasks under bounded parallelism. It is safe
// to call Run repeatedly, including concurrently; runs share no state.
type Orchestrator struct {
	workers int
	runner  *TaskRunner
	policy  *retry.Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
	emitter *events.Emitter
	runID   func() string
}

// New validates cfg and builds the pool. Construction failure is the only
// fatal error of a run.
func New(cfg Config, ext Extractor, eval Evaluator, opts ...Option) (*Orchestrator, error) {
	return NewWithPolicy(cfg, ext, eval, nil, opts...)
}

// NewWithPolicy is New with an explicit policy, which replaces cfg.Retry.
// Tests use it to inject a deterministic jitter source.
func NewWithPolicy(cfg Config, ext Extractor, eval Evaluator, policy *retry.Policy, opts ...Option) (*Orchestrator, error) {
	workers := cfg.Workers
	if workers == 0 {
		workers = DefaultWorkers()
	}
	if workers < 0 {
		return nil, fmt.Errorf("%w, got %d", errWorkersInvalid, workers)
	}

	if policy == nil {
		p, err := retry.NewPolicy(cfg.Retry)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: %w", err)
		}
		policy = p
	}

	runner, err := NewTaskRunner(ext, eval, policy, opts...)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	o := buildOptions(opts)
	if o.runID == nil {
		o.runID = func() string { return uuid.New().String() }
	}
	logger := o.logger.With("component", "orchestrator")

	return &Orchestrator{
		workers: workers,
		runner:  runner,
		policy:  policy,
		logger:  logger,
		metrics: o.metrics,
		emitter: events.NewEmitter(o.sink, logger),
		runID:   o.runID,
	}, nil
}

// Workers returns the pool size.
func (o *Orchestrator) Workers() int { return o.workers }

// Policy returns the shared retry policy.
func (o *Orchestrator) Policy() *retry.Policy { return o.policy }

// Run processes every index of rng and returns once each has a terminal
// outcome. Item failures never produce an error; the error return is
// reserved for an invalid range. onProgress may be nil.
//
// When ctx is cancelled, queued items resolve as not attempted and running
// items stop after their current call; the result still covers the range.
func (o *Orchestrator) Run(ctx context.Context, rng domain.ItemRange, onProgress ProgressFunc) (*domain.RunResult, error) {
	if err := rng.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	start := time.Now()
	runID := o.runID()
	logger := o.logger.With("run_id", runID)

	indices := rng.Indices()
	total := len(indices)
	workers := min(o.workers, total)

	logger.Info("extraction run started",
		"range", rng.String(),
		"items", total,
		"workers", workers)

	// One single-slot future per item so a task never waits on the
	// collector. Submission runs beside the collector because Go blocks
	// once workers tasks are in flight.
	futures := make([]chan domain.TaskOutcome, total)
	for i := range indices {
		futures[i] = make(chan domain.TaskOutcome, 1)
	}

	var g errgroup.Group
	g.SetLimit(workers)
	go func() {
		for i, idx := range indices {
			g.Go(func() error {
				futures[i] <- o.runItem(ctx, idx)
				return nil
			})
		}
	}()

	result := domain.NewRunResult(runID, rng)
	for i, future := range futures {
		out := <-future
		result.Add(out)
		o.record(ctx, runID, out)

		fraction := float64(i+1) / float64(total)
		o.metrics.Progress(fraction)
		o.notify(ctx, logger, onProgress, fraction)
	}
	// Every future has been read, so every Go call has returned.
	_ = g.Wait()

	result.Elapsed = time.Since(start)
	o.emitter.EmitPayload(ctx, EventRunCompleted, eventSource, runID, "run", RunCompletedPayload{
		Range:     rng,
		Accepted:  len(result.Accepted),
		Failed:    result.FailedIndices(),
		ElapsedMS: result.Elapsed.Milliseconds(),
	})

	logger.Info("extraction run completed",
		"accepted", len(result.Accepted),
		"failed", len(result.Failed),
		"elapsed_ms", result.Elapsed.Milliseconds())
	return result, nil
}

// runItem runs one task on the calling worker. A panic that escapes the
// runner is contained here so the item's future is always filled.
func (o *Orchestrator) runItem(ctx context.Context, idx domain.ItemIndex) (out domain.TaskOutcome) {
	if ctx.Err() != nil {
		return domain.Failed(idx, domain.FailureNotAttempted)
	}

	o.metrics.TaskStarted()
	defer o.metrics.TaskFinished()
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("task panicked", "item", int(idx), "panic", fmt.Sprint(p))
			out = domain.Failed(idx, domain.FailureExternalError)
			out.LastError = fmt.Sprintf("%v: %v", ErrClientPanic, p)
		}
	}()

	return o.runner.Run(ctx, idx)
}

func (o *Orchestrator) record(ctx context.Context, runID string, out domain.TaskOutcome) {
	subject := strconv.Itoa(int(out.Index))
	if rec, ok := out.Record(); ok {
		o.metrics.ItemResolved(domain.OutcomeAccepted.String())
		o.emitter.EmitPayload(ctx, EventItemAccepted, eventSource, runID, subject, ItemAcceptedPayload{
			Record:     rec,
			Attempts:   out.Attempts,
			DurationMS: out.Duration.Milliseconds(),
		})
		return
	}

	o.metrics.ItemResolved(string(out.Reason))
	o.emitter.EmitPayload(ctx, EventItemFailed, eventSource, runID, subject, ItemFailedPayload{
		Index:     out.Index,
		Reason:    out.Reason,
		Attempts:  out.Attempts,
		LastError: out.LastError,
	})
}

// notify calls the progress callback on the collector goroutine. A
// panicking callback is logged and otherwise ignored.
func (o *Orchestrator) notify(ctx context.Context, logger *slog.Logger, fn ProgressFunc, fraction float64) {
	if fn == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			logger.ErrorContext(ctx, "progress callback panicked", "panic", fmt.Sprint(p))
		}
	}()
	fn(fraction)
}
