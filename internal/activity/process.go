// Package activity implements the Temporal activities of the extraction
// workflow.
package activity

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ahrav/go-charstates/internal/domain"
	"github.com/ahrav/go-charstates/internal/metrics"
	"github.com/ahrav/go-charstates/internal/orchestrator"
	"github.com/ahrav/go-charstates/pkg/activity"
)

// ProcessItemName is the registered activity name.
const ProcessItemName = "ProcessItem"

const eventSource = "activity.process_item"

// ItemRunner drives one item to a terminal outcome.
// *orchestrator.TaskRunner implements it.
type ItemRunner interface {
	Run(ctx context.Context, idx domain.ItemIndex) domain.TaskOutcome
}

// ProcessItemInput is the input of ProcessItem.
type ProcessItemInput struct {
	Index domain.ItemIndex `json:"index"`
}

// Activities holds the dependencies of the extraction activities.
type Activities struct {
	activity.Base
	runner  ItemRunner
	metrics *metrics.Metrics
}

// NewActivities creates the activity set. m may be nil.
func NewActivities(base activity.Base, runner ItemRunner, m *metrics.Metrics) *Activities {
	return &Activities{Base: base, runner: runner, metrics: m}
}

// ProcessItem runs the extract, evaluate and retry state machine for one
// item. Item failures are returned as a Failed outcome with a nil error so
// Temporal does not retry work the task runner already retried; only
// invalid input produces an error.
func (a *Activities) ProcessItem(ctx context.Context, in ProcessItemInput) (out domain.TaskOutcome, err error) {
	if in.Index < 0 {
		return domain.TaskOutcome{}, nonRetryable(ErrorTypeValidation,
			fmt.Errorf("%w: negative index %d", ErrActivityValidation, in.Index), "invalid item index")
	}

	logger := a.Logger(ctx).With("item", int(in.Index))
	activity.Heartbeat(ctx, in.Index)
	defer activity.KeepAlive(ctx, in.Index)()

	a.metrics.TaskStarted()
	defer a.metrics.TaskFinished()
	defer func() {
		if p := recover(); p != nil {
			logger.Error("task panicked", "panic", fmt.Sprint(p))
			out = domain.Failed(in.Index, domain.FailureExternalError)
			out.LastError = fmt.Sprintf("%v: %v", orchestrator.ErrClientPanic, p)
			err = nil
		}
		a.record(ctx, out)
	}()

	out = a.runner.Run(ctx, in.Index)
	logger.Info("item processed",
		"outcome", out.Kind.String(),
		"reason", out.Reason,
		"attempts", out.Attempts)
	return out, nil
}

func (a *Activities) record(ctx context.Context, out domain.TaskOutcome) {
	subject := strconv.Itoa(int(out.Index))
	if rec, ok := out.Record(); ok {
		a.metrics.ItemResolved(domain.OutcomeAccepted.String())
		a.Emit(ctx, orchestrator.EventItemAccepted, eventSource, subject, orchestrator.ItemAcceptedPayload{
			Record:     rec,
			Attempts:   out.Attempts,
			DurationMS: out.Duration.Milliseconds(),
		})
		return
	}
	a.metrics.ItemResolved(string(out.Reason))
	a.Emit(ctx, orchestrator.EventItemFailed, eventSource, subject, orchestrator.ItemFailedPayload{
		Index:     out.Index,
		Reason:    out.Reason,
		Attempts:  out.Attempts,
		LastError: out.LastError,
	})
}
