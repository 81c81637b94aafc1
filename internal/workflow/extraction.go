package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-charstates/internal/activity"
	"github.com/ahrav/go-charstates/internal/domain"
)

// ProgressQuery returns the fraction of items collected so far.
const ProgressQuery = "progress"

// Activity defaults. A single item may spend minutes in rate-limit backoff,
// so the start-to-close timeout is generous; the heartbeat timeout is what
// detects a lost worker.
const (
	// DefaultItemTimeout is the start-to-close timeout of one item.
	DefaultItemTimeout = 30 * time.Minute

	// DefaultHeartbeatTimeout detects a lost worker between heartbeats.
	DefaultHeartbeatTimeout = 2 * time.Minute

	// DefaultActivityAttempts bounds Temporal retries of an infrastructure failure.
	DefaultActivityAttempts = 3
)

// ExtractionRequest is the workflow input.
type ExtractionRequest struct {
	Range domain.ItemRange `json:"range"`
	// MaxInFlight bounds scheduled but uncollected activities. Zero
	// schedules every item at once and leaves the bound to the worker's
	// MaxConcurrentActivityExecutionSize.
	MaxInFlight int `json:"max_in_flight"`
	// ItemTimeout is the start-to-close timeout of one ProcessItem.
	ItemTimeout time.Duration `json:"item_timeout"`
}

// Validate checks the request.
func (r ExtractionRequest) Validate() error {
	if err := r.Range.Validate(); err != nil {
		return err
	}
	if r.MaxInFlight < 0 {
		return fmt.Errorf("max_in_flight must be >= 0, got %d", r.MaxInFlight)
	}
	return nil
}

// ExtractionWorkflow runs ProcessItem for every index of the range and
// returns the partition of outcomes. Results are collected in ascending
// index order. An activity that fails for infrastructure reasons after its
// retries is recorded as a failed item, so the result stays exhaustive.
func ExtractionWorkflow(ctx workflow.Context, req ExtractionRequest) (*domain.RunResult, error) {
	if err := req.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError("invalid extraction request", "Validation", err)
	}

	logger := workflow.GetLogger(ctx)
	info := workflow.GetInfo(ctx)
	start := workflow.Now(ctx)

	indices := req.Range.Indices()
	total := len(indices)
	collected := 0
	if err := workflow.SetQueryHandler(ctx, ProgressQuery, func() (float64, error) {
		return float64(collected) / float64(total), nil
	}); err != nil {
		return nil, fmt.Errorf("register progress query: %w", err)
	}

	timeout := req.ItemTimeout
	if timeout <= 0 {
		timeout = DefaultItemTimeout
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    DefaultHeartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        DefaultActivityAttempts,
			NonRetryableErrorTypes: []string{activity.ErrorTypeValidation},
		},
	})

	window := req.MaxInFlight
	if window <= 0 || window > total {
		window = total
	}

	schedule := func(i int) workflow.Future {
		return workflow.ExecuteActivity(ctx, activity.ProcessItemName, activity.ProcessItemInput{Index: indices[i]})
	}
	futures := make([]workflow.Future, total)
	for i := range window {
		futures[i] = schedule(i)
	}

	result := domain.NewRunResult(info.WorkflowExecution.RunID, req.Range)
	for i, idx := range indices {
		var out domain.TaskOutcome
		if err := futures[i].Get(ctx, &out); err != nil {
			logger.Warn("ProcessItem failed, recording item as failed", "item", int(idx), "error", err)
			out = domain.Failed(idx, domain.FailureExternalError)
			out.LastError = err.Error()
		}
		result.Add(out)
		collected++
		futures[i] = nil

		if next := i + window; next < total {
			futures[next] = schedule(next)
		}
	}

	result.Elapsed = workflow.Now(ctx).Sub(start)
	logger.Info("extraction workflow completed",
		"accepted", len(result.Accepted),
		"failed", len(result.Failed))
	return result, nil
}
