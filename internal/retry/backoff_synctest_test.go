//go:build goexperiment.synctest

package retry_test

import (
	"context"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-charstates/internal/retry"
)

// TestWaitHonoursDelaySync checks that Wait blocks for exactly the requested
// delay on the fake clock.
func TestWaitHonoursDelaySync(t *testing.T) {
	synctest.Run(func() {
		start := time.Now()
		require.NoError(t, retry.Wait(context.Background(), 4*time.Second))
		assert.Equal(t, 4*time.Second, time.Since(start))
	})
}

// TestWaitReturnsOnCancelSync checks that cancellation interrupts a backoff.
func TestWaitReturnsOnCancelSync(t *testing.T) {
	synctest.Run(func() {
		ctx, cancel := context.WithCancel(context.Background())
		start := time.Now()

		go func() {
			time.Sleep(2 * time.Second)
			cancel()
		}()

		err := retry.Wait(ctx, time.Minute)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 2*time.Second, time.Since(start))
	})
}

// TestBackoffScheduleSync sums the full rate-limit schedule on the fake
// clock: 1+2+4+8+16+32 and then the 60s cap.
func TestBackoffScheduleSync(t *testing.T) {
	synctest.Run(func() {
		p, err := retry.NewPolicy(retry.DefaultConfig(), retry.WithJitterSource(func(time.Duration) time.Duration { return 0 }))
		require.NoError(t, err)

		start := time.Now()
		for n := 0; n < 8; n++ {
			require.NoError(t, retry.Wait(context.Background(), p.Backoff(n)))
		}
		assert.Equal(t, (63+120)*time.Second, time.Since(start))
	})
}
