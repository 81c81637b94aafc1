// Package activity provides the infrastructure shared by Temporal activity
// implementations: execution metadata, best-effort event emission and
// heartbeats that degrade gracefully outside an activity context.
package activity

import (
	"context"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/ahrav/go-charstates/pkg/events"
)

// ExecutionInfo identifies the activity execution that emitted an event or
// log line.
type ExecutionInfo struct {
	WorkflowID string
	RunID      string
	ActivityID string
	Attempt    int32
}

// Base is embedded by activity structs.
type Base struct {
	emitter *events.Emitter
	logger  *slog.Logger
}

// NewBase creates a Base. A nil sink disables event emission and a nil
// logger falls back to slog.Default.
func NewBase(sink events.EventSink, logger *slog.Logger) Base {
	if logger == nil {
		logger = slog.Default()
	}
	return Base{emitter: events.NewEmitter(sink, logger), logger: logger}
}

// Info returns the execution metadata of ctx. Outside an activity context
// (unit tests calling the method directly) it returns zero IDs with
// WorkflowID "local".
func (b *Base) Info(ctx context.Context) ExecutionInfo {
	if !activity.IsActivity(ctx) {
		return ExecutionInfo{WorkflowID: "local", RunID: "local"}
	}
	ai := activity.GetInfo(ctx)
	return ExecutionInfo{
		WorkflowID: ai.WorkflowExecution.ID,
		RunID:      ai.WorkflowExecution.RunID,
		ActivityID: ai.ActivityID,
		Attempt:    ai.Attempt,
	}
}

// Logger returns a logger annotated with the execution metadata.
func (b *Base) Logger(ctx context.Context) *slog.Logger {
	info := b.Info(ctx)
	return b.logger.With(
		"workflow_id", info.WorkflowID,
		"workflow_run_id", info.RunID,
		"activity_id", info.ActivityID,
		"attempt", info.Attempt,
	)
}

// Emit publishes payload best-effort, keyed by the workflow run. Emission
// failures are logged and never fail the activity.
func (b *Base) Emit(ctx context.Context, eventType, source, subject string, payload any) {
	info := b.Info(ctx)
	env, err := events.NewEnvelope(eventType, source, info.RunID, subject, payload)
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to build event", "event_type", eventType, "error", err)
		return
	}
	env.WorkflowID = info.WorkflowID
	b.emitter.Emit(ctx, env)
}

// Heartbeat records a heartbeat. It is a no-op outside an activity context.
func Heartbeat(ctx context.Context, details ...any) {
	if activity.IsActivity(ctx) {
		activity.RecordHeartbeat(ctx, details...)
	}
}

// KeepAlive heartbeats every half HeartbeatTimeout until stop is called.
// Outside an activity, or without a heartbeat timeout, stop is a no-op.
func KeepAlive(ctx context.Context, details ...any) (stop func()) {
	if !activity.IsActivity(ctx) {
		return func() {}
	}
	timeout := activity.GetInfo(ctx).HeartbeatTimeout
	if timeout <= 0 {
		return func() {}
	}
	return Every(ctx, timeout/2, func() { activity.RecordHeartbeat(ctx, details...) })
}

// Every calls fn each interval until stop is called or ctx is done. stop
// waits for the loop to exit.
func Every(ctx context.Context, interval time.Duration, fn func()) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn()
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
