// Package retry decides what a task does after each extraction or
// evaluation step: accept the result, try again (possibly after a backoff
// delay), or give up.
//
// The policy keeps two independent budgets. Content attempts are consumed by
// quality rejections and permanent errors and are bounded by MaxRetries.
// Transient rate-limit retries are bounded separately by
// MaxRateLimitRetries and never consume content attempts. The policy is
// pure apart from its statistics counters and the jitter source, so it is
// safe to share across all tasks of a run.
package retry

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	llmerrors "github.com/ahrav/go-charstates/internal/llm/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Configuration validation errors.
var (
	ErrInvalidConfig   = errors.New("invalid retry config")
	errMaxDelayInvalid = errors.New("maxDelay must be >= baseDelay")
	errJitterInvalid   = errors.New("jitter must be <= baseDelay")
)

// Defaults mirror the reference behavior: five retries beyond the first
// attempt, 1s base backoff capped at 60s, and acceptance at score 8.
const (
	// DefaultMaxRetries gives six content attempts in total.
	DefaultMaxRetries = 5

	// DefaultMaxRateLimitRetries bounds rate-limit retries per task.
	DefaultMaxRateLimitRetries = 30

	// DefaultBaseDelay is the first rate-limit backoff.
	DefaultBaseDelay = time.Second

	// DefaultMaxDelay caps every backoff, jitter included.
	DefaultMaxDelay = 60 * time.Second

	// DefaultJitter bounds the uniform jitter added to each backoff.
	DefaultJitter = time.Second

	// DefaultAcceptThreshold is the lowest accepted score.
	DefaultAcceptThreshold = 8
)

// Config holds the retry ceilings, backoff constants and the acceptance
// threshold.
type Config struct {
	// MaxRetries is the number of content retries beyond the first attempt.
	MaxRetries int `json:"max_retries" koanf:"max_retries" validate:"min=0"`
	// MaxRateLimitRetries bounds transient retries per task.
	MaxRateLimitRetries int `json:"max_rate_limit_retries" koanf:"max_rate_limit_retries" validate:"min=0"`

	BaseDelay time.Duration `json:"base_delay" koanf:"base_delay" validate:"gt=0"`
	MaxDelay  time.Duration `json:"max_delay"  koanf:"max_delay"  validate:"gt=0"`
	// Jitter is the upper bound of the uniform random delay added before
	// the cap is applied.
	Jitter time.Duration `json:"jitter" koanf:"jitter" validate:"min=0"`

	AcceptThreshold int `json:"accept_threshold" koanf:"accept_threshold" validate:"min=0,max=10"`
}

// DefaultConfig returns the reference retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:          DefaultMaxRetries,
		MaxRateLimitRetries: DefaultMaxRateLimitRetries,
		BaseDelay:           DefaultBaseDelay,
		MaxDelay:            DefaultMaxDelay,
		Jitter:              DefaultJitter,
		AcceptThreshold:     DefaultAcceptThreshold,
	}
}

// Validate checks field bounds and the cross-field constraints that keep
// backoff non-decreasing.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("%w: %w, got %v < %v", ErrInvalidConfig, errMaxDelayInvalid, c.MaxDelay, c.BaseDelay)
	}
	// base*2^(n+1) >= base*2^n + jitter only holds while jitter <= base.
	if c.Jitter > c.BaseDelay {
		return fmt.Errorf("%w: %w, got %v > %v", ErrInvalidConfig, errJitterInvalid, c.Jitter, c.BaseDelay)
	}
	return nil
}

// MaxAttempts returns the total number of content attempts a task may make.
func (c Config) MaxAttempts() int { return c.MaxRetries + 1 }

// OutcomeKind enumerates what happened on one step of a task.
type OutcomeKind uint8

const (
	// OutcomeSuccess is an evaluation at or above the acceptance threshold.
	OutcomeSuccess OutcomeKind = iota + 1

	// OutcomeLowScore is an evaluation below the acceptance threshold.
	OutcomeLowScore

	// OutcomeRateLimited is a transient rate or quota failure.
	OutcomeRateLimited

	// OutcomeOtherError is any other external failure.
	OutcomeOtherError
)

// String returns the metric label for the kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeLowScore:
		return "low_score"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeOtherError:
		return "other_error"
	default:
		return "unknown"
	}
}

// Outcome is the input to Decide.
type Outcome struct {
	Kind  OutcomeKind
	Score int
	Err   error
}

// OutcomeFromError maps an external error onto the rate-limited or
// other-error outcome.
func OutcomeFromError(err error) Outcome {
	if llmerrors.IsTransient(err) {
		return Outcome{Kind: OutcomeRateLimited, Err: err}
	}
	return Outcome{Kind: OutcomeOtherError, Err: err}
}

// Attempt is the caller's retry position.
type Attempt struct {
	// Content is the zero-based number of the current content attempt.
	Content int
	// RateLimited is the number of transient retries already taken.
	RateLimited int
}

// Action is what the caller does next.
type Action uint8

const (
	// ActionRetry runs the task again, after Decision.Delay.
	ActionRetry Action = iota + 1

	// ActionAccept resolves the task as accepted.
	ActionAccept

	// ActionGiveUp resolves the task as failed with Decision.Reason.
	ActionGiveUp
)

// String returns the string representation of an Action.
func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionAccept:
		return "accept"
	case ActionGiveUp:
		return "give_up"
	default:
		return "unknown"
	}
}

// Decision is the result of Decide.
type Decision struct {
	Action Action
	// Delay is how long to wait before the retry.
	Delay time.Duration
	// AppendFeedback asks the caller to record the rejected extraction for
	// the next prompt.
	AppendFeedback bool
	// ConsumesAttempt is true when the retry counts against MaxRetries.
	// Rate-limit retries count against MaxRateLimitRetries instead.
	ConsumesAttempt bool
}

// Policy implements the retry decision logic.
type Policy struct {
	cfg    Config
	jitter func(max time.Duration) time.Duration
	stats  *policyStats
}

// Option configures a Policy.
type Option func(*Policy)

// WithJitterSource replaces the random jitter source. The function receives
// the configured jitter bound and must return a value in [0, bound).
func WithJitterSource(fn func(max time.Duration) time.Duration) Option {
	return func(p *Policy) {
		if fn != nil {
			p.jitter = fn
		}
	}
}

// NewPolicy validates cfg and returns a Policy.
func NewPolicy(cfg Config, opts ...Option) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Policy{cfg: cfg, jitter: uniformJitter, stats: new(policyStats)}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the policy configuration.
func (p *Policy) Config() Config { return p.cfg }

// Classify turns an evaluation score into the success or low-score outcome.
func (p *Policy) Classify(score int) Outcome {
	if score >= p.cfg.AcceptThreshold {
		return Outcome{Kind: OutcomeSuccess, Score: score}
	}
	return Outcome{Kind: OutcomeLowScore, Score: score}
}

// Decide returns the next action for a task at position a that just saw o.
func (p *Policy) Decide(a Attempt, o Outcome) Decision {
	d := p.decide(a, o)
	p.stats.record(o.Kind, d)
	return d
}

func (p *Policy) decide(a Attempt, o Outcome) Decision {
	switch o.Kind {
	case OutcomeSuccess:
		return Decision{Action: ActionAccept}

	case OutcomeLowScore:
		if a.Content < p.cfg.MaxRetries {
			return Decision{Action: ActionRetry, AppendFeedback: true, ConsumesAttempt: true}
		}
		return Decision{Action: ActionGiveUp}

	case OutcomeRateLimited:
		if a.RateLimited < p.cfg.MaxRateLimitRetries {
			return Decision{Action: ActionRetry, Delay: p.delayFor(a.RateLimited, o.Err)}
		}
		return Decision{Action: ActionGiveUp}

	case OutcomeOtherError:
		if a.Content < p.cfg.MaxRetries {
			return Decision{Action: ActionRetry, ConsumesAttempt: true}
		}
		return Decision{Action: ActionGiveUp}

	default:
		return Decision{Action: ActionGiveUp}
	}
}

// delayFor honours a provider Retry-After when it asks for longer than the
// computed backoff. The result is still capped at MaxDelay.
func (p *Policy) delayFor(n int, err error) time.Duration {
	delay := p.Backoff(n)
	if hint := llmerrors.GetRetryAfter(err); hint > delay {
		delay = min(hint, p.cfg.MaxDelay)
	}
	return delay
}
