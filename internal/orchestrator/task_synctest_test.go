//go:build goexperiment.synctest

package orchestrator_test

import (
	"context"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-charstates/internal/domain"
	"github.com/ahrav/go-charstates/internal/llm/fake"
	"github.com/ahrav/go-charstates/internal/orchestrator"
	"github.com/ahrav/go-charstates/internal/retry"
)

func zeroJitter(time.Duration) time.Duration { return 0 }

// TestTaskRunnerRateLimitBackoffSync checks the reference backoff schedule
// on the fake clock: three 429s cost 1s + 2s + 4s before the fourth call.
func TestTaskRunnerRateLimitBackoffSync(t *testing.T) {
	synctest.Run(func() {
		policy, err := retry.NewPolicy(retry.DefaultConfig(), retry.WithJitterSource(zeroJitter))
		require.NoError(t, err)

		ext := &fake.Extractor{Respond: func(idx domain.ItemIndex, call int) (domain.ExtractionResult, error) {
			if call <= 3 {
				return domain.ExtractionResult{}, fake.RateLimited("extract")
			}
			return fake.DefaultExtraction(idx), nil
		}}
		runner, err := orchestrator.NewTaskRunner(ext, &fake.Evaluator{}, policy,
			orchestrator.WithLogger(quietLogger()))
		require.NoError(t, err)

		start := time.Now()
		out := runner.Run(context.Background(), 7)

		assert.True(t, out.IsAccepted())
		assert.Equal(t, 4, out.Attempts)
		assert.Equal(t, 7*time.Second, time.Since(start))
		assert.Equal(t, 4*time.Second, policy.Stats().MaxBackoff)
	})
}

// TestTaskRunnerBackoffCapSync checks that delays stop growing at 60s.
func TestTaskRunnerBackoffCapSync(t *testing.T) {
	synctest.Run(func() {
		cfg := retry.DefaultConfig()
		cfg.MaxRateLimitRetries = 8
		policy, err := retry.NewPolicy(cfg, retry.WithJitterSource(zeroJitter))
		require.NoError(t, err)

		ext := &fake.Extractor{Respond: func(domain.ItemIndex, int) (domain.ExtractionResult, error) {
			return domain.ExtractionResult{}, fake.RateLimited("extract")
		}}
		runner, err := orchestrator.NewTaskRunner(ext, &fake.Evaluator{}, policy,
			orchestrator.WithLogger(quietLogger()))
		require.NoError(t, err)

		start := time.Now()
		out := runner.Run(context.Background(), 1)

		assert.Equal(t, domain.FailureRateLimited, out.Reason)
		assert.Equal(t, 9, ext.Calls(1))
		// 1+2+4+8+16+32 then 60 twice.
		assert.Equal(t, 183*time.Second, time.Since(start))
		assert.Equal(t, 60*time.Second, policy.Stats().MaxBackoff)
	})
}

// TestOrchestratorCancelDuringBackoffSync checks that cancellation cuts a
// backoff short and the item resolves as cancelled.
func TestOrchestratorCancelDuringBackoffSync(t *testing.T) {
	synctest.Run(func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ext := &fake.Extractor{Respond: func(domain.ItemIndex, int) (domain.ExtractionResult, error) {
			return domain.ExtractionResult{}, fake.RateLimited("extract")
		}}
		cfg := orchestrator.Config{Workers: 2, Retry: retry.DefaultConfig()}
		o, err := orchestrator.New(cfg, ext, &fake.Evaluator{}, orchestrator.WithLogger(quietLogger()))
		require.NoError(t, err)

		go func() {
			time.Sleep(10 * time.Second)
			cancel()
		}()

		start := time.Now()
		res, err := o.Run(ctx, domain.ItemRange{Start: 1, End: 2}, nil)
		require.NoError(t, err)
		require.NoError(t, res.Validate())

		assert.Equal(t, 10*time.Second, time.Since(start))
		for _, out := range res.Outcomes {
			assert.Equal(t, domain.FailureCancelled, out.Reason)
		}
	})
}
