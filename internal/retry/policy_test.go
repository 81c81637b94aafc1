package retry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmerrors "github.com/ahrav/go-charstates/internal/llm/errors"
	"github.com/ahrav/go-charstates/internal/retry"
)

func noJitter(time.Duration) time.Duration { return 0 }

func maxJitter(bound time.Duration) time.Duration { return bound - time.Nanosecond }

func newPolicy(t *testing.T, opts ...retry.Option) *retry.Policy {
	t.Helper()
	p, err := retry.NewPolicy(retry.DefaultConfig(), opts...)
	require.NoError(t, err)
	return p
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*retry.Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*retry.Config) {}, ok: true},
		{name: "zero retries is allowed", mutate: func(c *retry.Config) { c.MaxRetries = 0 }, ok: true},
		{name: "negative retries", mutate: func(c *retry.Config) { c.MaxRetries = -1 }},
		{name: "zero base delay", mutate: func(c *retry.Config) { c.BaseDelay = 0 }},
		{name: "max below base", mutate: func(c *retry.Config) { c.MaxDelay = c.BaseDelay / 2 }},
		{name: "jitter above base", mutate: func(c *retry.Config) { c.Jitter = 2 * c.BaseDelay }},
		{name: "threshold above scale", mutate: func(c *retry.Config) { c.AcceptThreshold = 11 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := retry.DefaultConfig()
			tt.mutate(&cfg)
			_, err := retry.NewPolicy(cfg)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, retry.ErrInvalidConfig)
		})
	}
}

func TestDecideSuccessAccepts(t *testing.T) {
	p := newPolicy(t)

	for _, score := range []int{8, 9, 10} {
		o := p.Classify(score)
		require.Equal(t, retry.OutcomeSuccess, o.Kind)
		d := p.Decide(retry.Attempt{Content: 3}, o)
		assert.Equal(t, retry.ActionAccept, d.Action)
	}
}

func TestDecideLowScoreRetriesUntilCeiling(t *testing.T) {
	p := newPolicy(t)
	low := p.Classify(7)
	require.Equal(t, retry.OutcomeLowScore, low.Kind)

	cycles := 0
	for attempt := 0; ; attempt++ {
		cycles++
		d := p.Decide(retry.Attempt{Content: attempt}, low)
		if d.Action == retry.ActionGiveUp {
			break
		}
		require.Equal(t, retry.ActionRetry, d.Action)
		assert.Zero(t, d.Delay)
		assert.True(t, d.AppendFeedback)
		assert.True(t, d.ConsumesAttempt)
	}

	assert.Equal(t, retry.DefaultConfig().MaxAttempts(), cycles)
	assert.Equal(t, 6, cycles)

	stats := p.Stats()
	assert.Equal(t, int64(5), stats.ContentRetries)
	assert.Equal(t, int64(1), stats.GivenUp)
	assert.Equal(t, int64(6), stats.LowScores)
}

func TestDecideOtherErrorSharesContentCeiling(t *testing.T) {
	p := newPolicy(t)
	o := retry.OutcomeFromError(errors.New("invalid character 'x' in JSON"))
	require.Equal(t, retry.OutcomeOtherError, o.Kind)

	d := p.Decide(retry.Attempt{Content: 0}, o)
	assert.Equal(t, retry.ActionRetry, d.Action)
	assert.Zero(t, d.Delay)
	assert.False(t, d.AppendFeedback)
	assert.True(t, d.ConsumesAttempt)

	d = p.Decide(retry.Attempt{Content: 5}, o)
	assert.Equal(t, retry.ActionGiveUp, d.Action)
}

func TestDecideRateLimitedUsesSeparateBudget(t *testing.T) {
	p := newPolicy(t, retry.WithJitterSource(noJitter))
	o := retry.OutcomeFromError(errors.New("429 You exceeded your current quota"))
	require.Equal(t, retry.OutcomeRateLimited, o.Kind)

	// The content attempt is already at the ceiling; rate limiting still retries.
	d := p.Decide(retry.Attempt{Content: 5, RateLimited: 0}, o)
	assert.Equal(t, retry.ActionRetry, d.Action)
	assert.False(t, d.ConsumesAttempt)
	assert.Equal(t, time.Second, d.Delay)

	d = p.Decide(retry.Attempt{Content: 0, RateLimited: 3}, o)
	assert.Equal(t, 8*time.Second, d.Delay)

	d = p.Decide(retry.Attempt{RateLimited: retry.DefaultMaxRateLimitRetries}, o)
	assert.Equal(t, retry.ActionGiveUp, d.Action)
}

func TestDecideHonoursRetryAfterHint(t *testing.T) {
	p := newPolicy(t, retry.WithJitterSource(noJitter))

	o := retry.OutcomeFromError(&llmerrors.ProviderError{Provider: "gemini", StatusCode: 429, RetryAfter: 20})
	d := p.Decide(retry.Attempt{}, o)
	assert.Equal(t, 20*time.Second, d.Delay)

	o = retry.OutcomeFromError(&llmerrors.ProviderError{Provider: "gemini", StatusCode: 429, RetryAfter: 600})
	d = p.Decide(retry.Attempt{}, o)
	assert.Equal(t, retry.DefaultMaxDelay, d.Delay)
	assert.Equal(t, retry.DefaultMaxDelay, p.Stats().MaxBackoff)
}

func TestBackoffGeometricAndCapped(t *testing.T) {
	p := newPolicy(t, retry.WithJitterSource(noJitter))

	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60}
	for n, w := range want {
		assert.Equal(t, w*time.Second, p.Backoff(n), "n=%d", n)
	}
	assert.Equal(t, time.Second, p.Backoff(-3))
	assert.Equal(t, retry.DefaultMaxDelay, p.Backoff(1000))
}

func TestBackoffNonDecreasingUnderAnyJitter(t *testing.T) {
	low := newPolicy(t, retry.WithJitterSource(noJitter))
	high := newPolicy(t, retry.WithJitterSource(maxJitter))
	random := newPolicy(t)

	for n := 0; n < 40; n++ {
		// Worst case: maximal jitter at n, none at n+1.
		assert.LessOrEqual(t, high.Backoff(n), low.Backoff(n+1), "n=%d", n)
		assert.LessOrEqual(t, random.Backoff(n), retry.DefaultMaxDelay)
		assert.GreaterOrEqual(t, random.Backoff(n), low.Backoff(n))
	}
}

func TestOutcomeKindString(t *testing.T) {
	assert.Equal(t, "rate_limited", retry.OutcomeRateLimited.String())
	assert.Equal(t, "low_score", retry.OutcomeLowScore.String())
	assert.Equal(t, "give_up", retry.ActionGiveUp.String())
}
