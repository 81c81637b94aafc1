package retry_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-charstates/internal/retry"
)

func TestWaitZeroDelayChecksContext(t *testing.T) {
	assert.NoError(t, retry.Wait(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, retry.Wait(ctx, 0), context.Canceled)
	assert.ErrorIs(t, retry.Wait(ctx, -1), context.Canceled)
}

func TestBackoffLargeBaseDoesNotOverflow(t *testing.T) {
	cfg := retry.DefaultConfig()
	cfg.BaseDelay = 10 * time.Second
	cfg.MaxDelay = time.Duration(math.MaxInt64)
	cfg.Jitter = 0
	cfg.MaxRateLimitRetries = 64
	p, err := retry.NewPolicy(cfg)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second<<29, p.Backoff(29))
	prev := time.Duration(0)
	for n := range 70 {
		d := p.Backoff(n)
		require.GreaterOrEqual(t, d, prev, "backoff(%d)", n)
		prev = d
	}
	assert.Equal(t, cfg.MaxDelay, p.Backoff(30))
	assert.Equal(t, cfg.MaxDelay, p.Backoff(31))
}
