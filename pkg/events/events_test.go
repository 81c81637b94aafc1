package events_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-charstates/pkg/events"
)

type flakySink struct {
	failures atomic.Int32
	inner    *events.MemorySink
}

func (f *flakySink) Append(ctx context.Context, e events.Envelope) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("sink unavailable")
	}
	return f.inner.Append(ctx, e)
}

func TestNewEnvelope(t *testing.T) {
	env, err := events.NewEnvelope("extraction.item_accepted", "orchestrator", "run-1", "4", map[string]int{"index": 4})
	require.NoError(t, err)

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, events.SchemaVersion, env.Version)
	assert.Equal(t, "run-1", env.RunID)
	assert.JSONEq(t, `{"index":4}`, string(env.Payload))
	assert.Equal(t, events.IdempotencyKey("run-1", "extraction.item_accepted", "4"), env.IdempotencyKey)
	assert.NotEqual(t, events.IdempotencyKey("run-1", "extraction.item_accepted", "5"), env.IdempotencyKey)

	_, err = events.NewEnvelope("bad", "x", "r", "s", func() {})
	assert.Error(t, err)
}

func TestMemorySinkDeduplicates(t *testing.T) {
	sink := events.NewMemorySink()
	env, err := events.NewEnvelope("extraction.item_failed", "orchestrator", "run", "2", nil)
	require.NoError(t, err)

	require.NoError(t, sink.Append(context.Background(), env))
	require.NoError(t, sink.Append(context.Background(), env))

	assert.Len(t, sink.Events(), 1)
	assert.Len(t, sink.OfType("extraction.item_failed"), 1)
	assert.Empty(t, sink.OfType("extraction.item_accepted"))
}

func TestEmitterRetriesOnce(t *testing.T) {
	sink := &flakySink{inner: events.NewMemorySink()}
	sink.failures.Store(1)

	em := events.NewEmitter(sink, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	em.EmitPayload(context.Background(), "extraction.run_completed", "orchestrator", "run", "run", map[string]int{"accepted": 1})

	assert.Len(t, sink.inner.Events(), 1)
}

func TestEmitterGivesUpAndLogs(t *testing.T) {
	sink := &flakySink{inner: events.NewMemorySink()}
	sink.failures.Store(5)

	var buf bytes.Buffer
	em := events.NewEmitter(sink, slog.New(slog.NewJSONHandler(&buf, nil)))
	em.EmitPayload(context.Background(), "extraction.item_failed", "orchestrator", "run", "1", nil)

	assert.Empty(t, sink.inner.Events())
	assert.Contains(t, buf.String(), "failed to emit event")
}

func TestNilEmitterIsSafe(t *testing.T) {
	var em *events.Emitter
	em.EmitPayload(context.Background(), "x", "y", "z", "s", nil)
	events.NewEmitter(nil, nil).EmitPayload(context.Background(), "x", "y", "z", "s", nil)
}

func TestLogSinkAndFanOut(t *testing.T) {
	var buf bytes.Buffer
	mem := events.NewMemorySink()
	fan := events.FanOut{events.NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)), slog.LevelInfo), mem}

	env, err := events.NewEnvelope("extraction.item_accepted", "orchestrator", "run", "1", nil)
	require.NoError(t, err)
	require.NoError(t, fan.Append(context.Background(), env))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "extraction.item_accepted", line["type"])
	assert.Equal(t, "events", line["component"])
	assert.Len(t, mem.Events(), 1)
}
