// Package circuitbreaker stops calling a model that keeps failing.
//
// One breaker exists per provider and model. Consecutive provider failures
// (5xx responses and transport errors) open it; while open, calls fail fast
// with a transient *llmerrors.ProviderError of type ErrorTypeCircuitOpen
// carrying the remaining open time as RetryAfter, so tasks back off on
// their rate-limit budget instead of burning content attempts. After
// OpenTimeout a bounded number of probes decide whether it closes again.
//
// Throttling (429), client errors and unusable model output do not count
// as failures: the provider answered.
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	llmerrors "github.com/ahrav/go-charstates/internal/llm/errors"
	"github.com/ahrav/go-charstates/internal/llm/transport"
	"github.com/ahrav/go-charstates/internal/metrics"
)

// Breakers holds the breaker of every provider model seen so far.
type Breakers struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	breakers map[string]*breaker
}

// Option configures Breakers.
type Option func(*Breakers)

// WithLogger sets the logger used for state transitions.
func WithLogger(l *slog.Logger) Option {
	return func(b *Breakers) {
		if l != nil {
			b.logger = l.With("component", "circuit_breaker")
		}
	}
}

// WithMetrics records state transitions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Breakers) { b.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breakers) { b.now = now }
}

// New validates cfg and creates an empty set of breakers.
func New(cfg Config, opts ...Option) (*Breakers, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Breakers{
		cfg:      cfg,
		logger:   slog.Default().With("component", "circuit_breaker"),
		now:      time.Now,
		breakers: make(map[string]*breaker),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Middleware returns the transport middleware. A disabled config yields a
// pass-through.
func (b *Breakers) Middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		if !b.cfg.Enabled {
			return next
		}
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			br := b.get(req.Provider, req.Model)
			done, retryIn, ok := br.allow()
			if !ok {
				return nil, openError(req, retryIn)
			}

			resp, err := next.Handle(ctx, req)
			done(countsAsFailure(ctx, err))
			return resp, err
		})
	}
}

// State returns the state of the breaker for model. Unknown models are
// closed.
func (b *Breakers) State(provider, model string) State {
	b.mu.Lock()
	br, ok := b.breakers[provider+":"+model]
	b.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return br.current()
}

func (b *Breakers) get(provider, model string) *breaker {
	key := provider + ":" + model

	b.mu.Lock()
	defer b.mu.Unlock()
	if br, ok := b.breakers[key]; ok {
		return br
	}
	br := &breaker{
		cfg: b.cfg,
		now: b.now,
		onChange: func(from, to State) {
			b.logger.Info("circuit breaker state transition",
				"provider", provider,
				"model", model,
				"from", from.String(),
				"to", to.String())
			b.metrics.CircuitTransition(model, to.String())
		},
	}
	b.breakers[key] = br
	return br
}

func openError(req *transport.Request, retryIn time.Duration) error {
	return &llmerrors.ProviderError{
		Provider:   req.Provider,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "CIRCUIT_OPEN",
		Message:    "circuit breaker is open for " + req.Model,
		Type:       llmerrors.ErrorTypeCircuitOpen,
		RetryAfter: int(math.Ceil(retryIn.Seconds())),
	}
}

func countsAsFailure(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, llmerrors.ErrInvalidResponse) || errors.Is(err, llmerrors.ErrJSONValidation) {
		return false
	}
	var rlErr *llmerrors.RateLimitError
	if errors.As(err, &rlErr) {
		return false
	}
	var provErr *llmerrors.ProviderError
	if errors.As(err, &provErr) {
		return provErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}
