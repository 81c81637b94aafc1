// Package ratelimit provides dual-layer rate limiting for model calls.
//
// A local token bucket per provider, model and operation smooths bursts from
// the worker pool. An optional Redis fixed window caps the combined rate of
// every process sharing an API key. When Redis is unreachable the limiter
// degrades to local-only limiting, or to a conservative fallback bucket when
// the local layer is disabled.
//
// Refusals surface as *llmerrors.RateLimitError, which the retry policy
// treats as transient and schedules on the rate-limit budget, honoring the
// RetryAfter hint.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	llmerrors "github.com/ahrav/go-charstates/internal/llm/errors"
	"github.com/ahrav/go-charstates/internal/llm/transport"
	"github.com/ahrav/go-charstates/internal/metrics"
)

// Cleanup and lifecycle constants.
const (
	// CleanupInterval is how often idle local buckets are swept.
	CleanupInterval = 10 * time.Minute

	// LimiterTTL is how long an unused bucket survives a sweep.
	LimiterTTL = 30 * time.Minute
)

// Limiter enforces both layers. It is safe for concurrent use.
type Limiter struct {
	config Config

	localMu       sync.RWMutex
	localLimiters map[string]*timedLimiter

	globalClient *redis.Client
	ownsClient   bool
	degraded     atomic.Bool

	cleanupMu     sync.Mutex
	cleanupTicker *time.Ticker
	cleanupStop   chan struct{}
	cleanupDone   sync.WaitGroup

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithRedisClient injects the client for the global layer. The caller keeps
// ownership and closes it.
func WithRedisClient(c *redis.Client) Option {
	return func(l *Limiter) { l.globalClient = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger.With("component", "ratelimit")
		}
	}
}

// WithMetrics records refusals.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// New validates cfg and builds a Limiter. When the global layer is enabled
// and no client was injected, one is created from cfg and pinged; a failed
// ping starts the limiter in degraded mode rather than failing. Call Stop
// to end the cleanup goroutine and release an owned Redis client.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		config:        cfg,
		localLimiters: make(map[string]*timedLimiter),
		logger:        slog.Default().With("component", "ratelimit"),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if cfg.Global.Enabled && l.globalClient == nil {
		l.globalClient = newRedisClient(cfg.Global)
		l.ownsClient = true

		timeout := cfg.Global.ConnectTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := l.globalClient.Ping(ctx).Err(); err != nil {
			l.logger.Warn("Redis connection failed, using local-only rate limiting", "error", err)
			l.degraded.Store(true)
		}
	}

	l.Start()
	return l, nil
}

// Middleware returns the transport middleware enforcing the limits.
func (l *Limiter) Middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if err := l.Allow(ctx, buildKey(req)); err != nil {
				return nil, err
			}
			return next.Handle(ctx, req)
		})
	}
}

// Allow runs the three phases for key: local bucket, shared window, and the
// fallback bucket while degraded with the local layer off.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	if l.config.Local.Enabled {
		if err := checkLocalLimit(l, key); err != nil {
			return l.refused("local", err)
		}
	}

	if l.config.Global.Enabled && !l.degraded.Load() {
		if err := l.handleGlobalLimit(ctx, key); err != nil {
			return l.refused("global", err)
		}
	}

	if l.config.Global.Enabled && l.degraded.Load() && !l.config.Local.Enabled {
		if err := checkFallbackLimit(l, key); err != nil {
			return l.refused("fallback", err)
		}
	}
	return nil
}

func (l *Limiter) refused(layer string, err error) error {
	var rlErr *llmerrors.RateLimitError
	if errors.As(err, &rlErr) {
		l.metrics.RateLimited(layer)
	}
	return err
}

// buildKey scopes buckets by provider, model and operation.
func buildKey(req *transport.Request) string {
	return fmt.Sprintf("%s:%s:%s", req.Provider, req.Model, req.Operation)
}

// handleGlobalLimit switches to degraded mode on Redis infrastructure errors.
func (l *Limiter) handleGlobalLimit(ctx context.Context, key string) error {
	err := checkGlobalLimit(ctx, l, key)
	if err == nil || !isRedisError(ctx, err) {
		return err
	}

	l.logger.Warn("Redis error, switching to degraded mode", "error", err)
	l.degraded.Store(true)

	if !l.config.Local.Enabled {
		return checkFallbackLimit(l, key)
	}
	return nil
}

// isRedisError reports whether err is a Redis or network failure rather
// than a refusal. A cancelled caller context is not a Redis failure.
func isRedisError(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Degraded reports whether the global layer has been abandoned.
func (l *Limiter) Degraded() bool { return l.degraded.Load() }

// Stats returns a snapshot of limiter state.
func (l *Limiter) Stats() Stats {
	l.localMu.RLock()
	localCount := len(l.localLimiters)
	l.localMu.RUnlock()

	stats := Stats{
		LocalLimiters: localCount,
		GlobalEnabled: l.config.Global.Enabled,
		DegradedMode:  l.degraded.Load(),
	}
	if l.globalClient != nil {
		ps := l.globalClient.PoolStats()
		stats.PoolHits = ps.Hits
		stats.PoolMisses = ps.Misses
		stats.PoolTimeouts = ps.Timeouts
		stats.PoolTotalConns = ps.TotalConns
		stats.PoolIdleConns = ps.IdleConns
		stats.PoolStaleConns = ps.StaleConns
	}
	return stats
}

// Start launches the background cleanup of idle buckets. It is idempotent.
func (l *Limiter) Start() {
	l.cleanupMu.Lock()
	defer l.cleanupMu.Unlock()
	if l.cleanupTicker != nil {
		return
	}

	l.cleanupStop = make(chan struct{})
	l.cleanupTicker = time.NewTicker(CleanupInterval)
	l.cleanupDone.Add(1)
	go l.cleanupLoop(l.cleanupTicker, l.cleanupStop)
}

// Stop ends the cleanup goroutine and closes an owned Redis client. It is
// idempotent.
func (l *Limiter) Stop() {
	l.cleanupMu.Lock()
	defer l.cleanupMu.Unlock()
	if l.cleanupTicker == nil {
		return
	}

	close(l.cleanupStop)
	l.cleanupTicker.Stop()
	l.cleanupDone.Wait()
	l.cleanupTicker = nil

	if l.ownsClient && l.globalClient != nil {
		if err := l.globalClient.Close(); err != nil {
			l.logger.Warn("closing Redis client", "error", err)
		}
		l.globalClient = nil
	}
}

func (l *Limiter) cleanupLoop(ticker *time.Ticker, stop <-chan struct{}) {
	defer l.cleanupDone.Done()
	for {
		select {
		case <-ticker.C:
			if n := l.CleanupStale(l.now().Add(-LimiterTTL)); n > 0 {
				l.logger.Debug("dropped idle rate limiters", "count", n)
			}
		case <-stop:
			return
		}
	}
}
