package orchestrator

import (
	"log/slog"

	"github.com/ahrav/go-charstates/internal/metrics"
	"github.com/ahrav/go-charstates/internal/prompt"
	"github.com/ahrav/go-charstates/pkg/events"
)

type options struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	prompts *prompt.Builder
	sink    events.EventSink
	runID   func() string
}

// Option configures an Orchestrator or a TaskRunner.
type Option func(*options)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records Prometheus metrics. Without it nothing is recorded.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithPrompts replaces the built-in prompt templates.
func WithPrompts(b *prompt.Builder) Option {
	return func(o *options) { o.prompts = b }
}

// WithEventSink publishes item and run outcomes to sink.
func WithEventSink(sink events.EventSink) Option {
	return func(o *options) { o.sink = sink }
}

// WithRunIDs replaces the run ID generator.
func WithRunIDs(fn func() string) Option {
	return func(o *options) { o.runID = fn }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.prompts == nil {
		o.prompts = prompt.MustDefault()
	}
	return o
}
