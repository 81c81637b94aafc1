package events

import (
	"context"
	"log/slog"
	"sync"
)

// MemorySink keeps events in memory, deduplicated by idempotency key.
// It is safe for concurrent use.
type MemorySink struct {
	mu     sync.Mutex
	events []Envelope
	seen   map[string]struct{}
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{seen: make(map[string]struct{})}
}

// Append stores the envelope unless an event with the same idempotency key
// was already stored.
func (m *MemorySink) Append(_ context.Context, e Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.IdempotencyKey != "" {
		if _, dup := m.seen[e.IdempotencyKey]; dup {
			return nil
		}
		m.seen[e.IdempotencyKey] = struct{}{}
	}
	m.events = append(m.events, e)
	return nil
}

// Events returns a copy of the stored events in append order.
func (m *MemorySink) Events() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, len(m.events))
	copy(out, m.events)
	return out
}

// OfType returns the stored events of the given type.
func (m *MemorySink) OfType(eventType string) []Envelope {
	var out []Envelope
	for _, e := range m.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink creates a sink that logs through logger at level.
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "events"), level: level}
}

// Append logs the envelope.
func (l *LogSink) Append(ctx context.Context, e Envelope) error {
	l.logger.LogAttrs(ctx, l.level, "event",
		slog.String("type", e.Type),
		slog.String("run_id", e.RunID),
		slog.String("idempotency_key", e.IdempotencyKey),
		slog.String("payload", string(e.Payload)),
	)
	return nil
}

// FanOut delivers each event to every sink and returns the first error.
type FanOut []EventSink

// Append implements EventSink.
func (f FanOut) Append(ctx context.Context, e Envelope) error {
	var first error
	for _, s := range f {
		if err := s.Append(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
