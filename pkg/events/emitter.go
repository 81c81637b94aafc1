package events

import (
	"context"
	"log/slog"
	"time"
)

// Emitter wraps a sink with best-effort delivery: a short retry, then a log
// line. It never returns an error to the caller.
type Emitter struct {
	sink       EventSink
	logger     *slog.Logger
	attempts   int
	retryDelay time.Duration
}

// NewEmitter creates an Emitter. A nil sink disables emission.
func NewEmitter(sink EventSink, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{sink: sink, logger: logger, attempts: 2, retryDelay: 200 * time.Millisecond}
}

// Emit delivers e, retrying once after a short delay.
func (em *Emitter) Emit(ctx context.Context, e Envelope) {
	if em == nil || em.sink == nil {
		return
	}

	var lastErr error
	for attempt := 0; attempt < em.attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(em.retryDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				em.logger.WarnContext(ctx, "event emission cancelled", "event_type", e.Type)
				return
			}
		}

		if err := em.sink.Append(ctx, e); err != nil {
			lastErr = err
			continue
		}
		em.logger.DebugContext(ctx, "event emitted",
			"event_type", e.Type,
			"idempotency_key", e.IdempotencyKey)
		return
	}

	em.logger.ErrorContext(ctx, "failed to emit event",
		"event_type", e.Type,
		"attempts", em.attempts,
		"error", lastErr)
}

// EmitPayload builds an envelope and emits it. Marshal failures are logged.
func (em *Emitter) EmitPayload(ctx context.Context, eventType, source, runID, subject string, payload any) {
	if em == nil || em.sink == nil {
		return
	}
	env, err := NewEnvelope(eventType, source, runID, subject, payload)
	if err != nil {
		em.logger.ErrorContext(ctx, "failed to build event", "event_type", eventType, "error", err)
		return
	}
	em.Emit(ctx, env)
}
