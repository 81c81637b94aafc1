package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmerrors "github.com/ahrav/go-charstates/internal/llm/errors"
	"github.com/ahrav/go-charstates/internal/llm/transport"
	"github.com/ahrav/go-charstates/internal/metrics"
)

func newTestLimiter(t *testing.T, cfg Config, opts ...Option) *Limiter {
	t.Helper()
	l, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(l.Stop)
	return l
}

func okHandler(calls *atomic.Int32) transport.Handler {
	return transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		calls.Add(1)
		return &transport.Response{Content: "{}"}, nil
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "defaults are valid", cfg: DefaultConfig()},
		{name: "negative tokens", cfg: Config{Local: LocalConfig{Enabled: true, TokensPerSecond: -1}}, wantErr: errNegativeTokensPerSecond},
		{name: "negative burst", cfg: Config{Local: LocalConfig{Enabled: true, TokensPerSecond: 1, BurstSize: -1}}, wantErr: errNegativeBurstSize},
		{name: "burst without rate", cfg: Config{Local: LocalConfig{Enabled: true, BurstSize: 3}}, wantErr: errBurstWithoutRate},
		{name: "negative global rate", cfg: Config{Global: GlobalConfig{Enabled: true, RequestsPerSecond: -1, RedisAddr: "x"}}, wantErr: errNegativeRequestsPerSecond},
		{name: "global without address", cfg: Config{Global: GlobalConfig{Enabled: true, RequestsPerSecond: 1}}, wantErr: errMissingRedisAddr},
		{name: "disabled layers are not checked", cfg: Config{Local: LocalConfig{TokensPerSecond: -5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLocalLimitRefusesBeyondBurst(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	l := newTestLimiter(t, Config{Local: LocalConfig{Enabled: true, TokensPerSecond: 0.5, BurstSize: 2}}, WithMetrics(m))

	var calls atomic.Int32
	h := transport.Chain(okHandler(&calls), l.Middleware())
	req := &transport.Request{Provider: "google", Model: "m", Operation: transport.OpExtraction}

	for range 2 {
		_, err := h.Handle(context.Background(), req)
		require.NoError(t, err)
	}
	_, err := h.Handle(context.Background(), req)

	var rlErr *llmerrors.RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, "local", rlErr.Provider)
	assert.True(t, rlErr.LocalLimit)
	assert.GreaterOrEqual(t, rlErr.RetryAfter, MinRetryAfterSeconds)
	assert.True(t, llmerrors.IsTransient(err))
	assert.Equal(t, int32(2), calls.Load(), "refused request must not reach the provider")
	assert.InDelta(t, 1, testutil.ToFloat64(m.RateLimitRejections.WithLabelValues("local")), 0)
}

func TestLocalBucketsAreScopedByOperation(t *testing.T) {
	l := newTestLimiter(t, Config{Local: LocalConfig{Enabled: true, TokensPerSecond: 0.1, BurstSize: 1}})

	ext := &transport.Request{Provider: "google", Model: "m", Operation: transport.OpExtraction}
	eval := &transport.Request{Provider: "google", Model: "m", Operation: transport.OpEvaluation}

	require.NoError(t, l.Allow(context.Background(), buildKey(ext)))
	require.NoError(t, l.Allow(context.Background(), buildKey(eval)))
	assert.Error(t, l.Allow(context.Background(), buildKey(ext)))
	assert.Equal(t, 2, l.Stats().LocalLimiters)
}

func TestRefusalDoesNotConsumeToken(t *testing.T) {
	l := newTestLimiter(t, Config{Local: LocalConfig{Enabled: true, TokensPerSecond: 1, BurstSize: 1}})
	require.NoError(t, l.Allow(context.Background(), "k"))
	for range 5 {
		require.Error(t, l.Allow(context.Background(), "k"))
	}

	lim := l.getOrCreateLimiter("k", 1, 1)
	assert.Greater(t, lim.Tokens(), -1.0, "cancelled reservations must not accumulate debt")
}

func TestUnreachableRedisDegradesToFallback(t *testing.T) {
	l := newTestLimiter(t, Config{
		Global: GlobalConfig{
			Enabled:           true,
			RequestsPerSecond: 100,
			RedisAddr:         "127.0.0.1:1",
			ConnectTimeout:    50 * time.Millisecond,
		},
	})

	require.True(t, l.Degraded())

	var refused int
	for range DefaultRateLimit + 1 {
		if err := l.Allow(context.Background(), "google:m:extraction"); err != nil {
			var rlErr *llmerrors.RateLimitError
			require.ErrorAs(t, err, &rlErr)
			assert.Equal(t, "fallback", rlErr.Provider)
			refused++
		}
	}
	assert.Equal(t, 1, refused, "fallback bucket must cap throughput instead of failing open")

	stats := l.Stats()
	assert.True(t, stats.GlobalEnabled)
	assert.True(t, stats.DegradedMode)
}

func TestCleanupStaleKeepsRefillingBuckets(t *testing.T) {
	l := newTestLimiter(t, Config{Local: LocalConfig{Enabled: true, TokensPerSecond: 0.01, BurstSize: 1}})
	past := time.Now().Add(-time.Hour)
	l.now = func() time.Time { return past }

	l.getOrCreateLimiter("idle", 0.01, 1)
	require.NoError(t, l.Allow(context.Background(), "drained"))

	removed := l.CleanupStale(time.Now())
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, l.Stats().LocalLimiters)
}

func TestStartStopIdempotent(t *testing.T) {
	l := newTestLimiter(t, Config{Local: LocalConfig{Enabled: true, TokensPerSecond: 1, BurstSize: 1}})
	l.Start()
	l.Stop()
	l.Stop()
	l.Start()
}

func TestConcurrentAllowNeverExceedsBurst(t *testing.T) {
	l := newTestLimiter(t, Config{Local: LocalConfig{Enabled: true, TokensPerSecond: 0.001, BurstSize: 5}})

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(context.Background(), "k") == nil {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(5), allowed.Load())
}

func TestIsRedisError(t *testing.T) {
	ctx := context.Background()
	assert.False(t, isRedisError(ctx, nil))
	assert.True(t, isRedisError(ctx, context.DeadlineExceeded))
	assert.False(t, isRedisError(ctx, &llmerrors.RateLimitError{Provider: "global"}))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, isRedisError(cancelled, context.Canceled))
}
