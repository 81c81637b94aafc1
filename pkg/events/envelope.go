// Package events provides the event infrastructure used to publish run and
// item outcomes. It defines the Envelope type that wraps every event with
// consistent metadata and the EventSink interface for delivering it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on every envelope produced by NewEnvelope.
const SchemaVersion = "1.0.0"

// Envelope wraps an event payload with the metadata consumers route and
// deduplicate on.
type Envelope struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Type identifies the event, e.g. "extraction.item_accepted".
	Type string `json:"type"`

	// Source identifies the emitting component, e.g. "orchestrator".
	Source string `json:"source"`

	// Version enables schema evolution.
	Version string `json:"version"`

	Timestamp time.Time `json:"timestamp"`

	// IdempotencyKey is derived from the run and the subject of the event,
	// so redelivery of the same fact produces the same key.
	IdempotencyKey string `json:"idempotency_key"`

	// WorkflowID is set when the run is driven by a Temporal workflow.
	WorkflowID string `json:"workflow_id,omitempty"`

	// RunID identifies the orchestration run.
	RunID string `json:"run_id"`

	// Payload contains the event data as JSON. Schema varies by Type.
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope around payload. subject distinguishes
// events of the same type within one run (an item index, or "run").
func NewEnvelope(eventType, source, runID, subject string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		ID:             uuid.New().String(),
		Type:           eventType,
		Source:         source,
		Version:        SchemaVersion,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: IdempotencyKey(runID, eventType, subject),
		RunID:          runID,
		Payload:        raw,
	}, nil
}

// IdempotencyKey derives a stable UUIDv5 from the run, event type and subject.
func IdempotencyKey(runID, eventType, subject string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(runID+"/"+eventType+"/"+subject)).String()
}

// EventSink delivers events to downstream consumers.
//
// Append should return quickly. Callers treat a failed Append as an
// observability loss, never as a failure of the primary operation.
type EventSink interface {
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink discards every event.
type NoOpEventSink struct{}

// Append implements EventSink.Append with no-op behavior.
func (n *NoOpEventSink) Append(_ context.Context, _ Envelope) error {
	return nil
}

// NewNoOpEventSink creates a new no-op event sink.
func NewNoOpEventSink() EventSink {
	return &NoOpEventSink{}
}
