package ratelimit

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	llmerrors "github.com/ahrav/go-charstates/internal/llm/errors"
)

// DefaultRateLimit is the fallback rate used when Redis is unreachable and
// the local layer is disabled.
const DefaultRateLimit = 10

// timedLimiter wraps a token bucket with its last access time so idle
// buckets can be dropped.
type timedLimiter struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64
}

// checkLocalLimit takes one token from the bucket of key or reports how long
// to wait. A refused request does not consume a token.
func checkLocalLimit(r *Limiter, key string) error {
	limiter := r.getOrCreateLimiter(key, rate.Limit(r.config.Local.TokensPerSecond), r.config.Local.BurstSize)
	return allowOrReject(limiter, "local", int(r.config.Local.TokensPerSecond))
}

// checkFallbackLimit keeps a conservative bucket per key while the global
// layer is degraded and the local layer is off, so the limiter never fails
// open.
func checkFallbackLimit(r *Limiter, key string) error {
	limiter := r.getOrCreateLimiter(fmt.Sprintf("fallback:%s", key), rate.Limit(DefaultRateLimit), DefaultRateLimit)
	return allowOrReject(limiter, "fallback", DefaultRateLimit)
}

func allowOrReject(limiter *rate.Limiter, layer string, limit int) error {
	if limiter.Allow() {
		return nil
	}

	reservation := limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()

	return &llmerrors.RateLimitError{
		Provider:   layer,
		Limit:      limit,
		RetryAfter: retryAfterSeconds(delay),
		LocalLimit: true,
	}
}

// retryAfterSeconds rounds a delay up to whole seconds, never below one.
func retryAfterSeconds(delay time.Duration) int {
	secs := int(math.Ceil(delay.Seconds()))
	if secs < MinRetryAfterSeconds {
		secs = MinRetryAfterSeconds
	}
	return secs
}

// getOrCreateLimiter returns the bucket for key, creating it on first use
// with double-checked locking.
func (r *Limiter) getOrCreateLimiter(key string, limit rate.Limit, burst int) *rate.Limiter {
	now := r.now().UnixNano()

	r.localMu.RLock()
	if tl, ok := r.localLimiters[key]; ok {
		tl.lastUsed.Store(now)
		lim := tl.limiter
		r.localMu.RUnlock()
		return lim
	}
	r.localMu.RUnlock()

	r.localMu.Lock()
	defer r.localMu.Unlock()
	if tl, ok := r.localLimiters[key]; ok {
		tl.lastUsed.Store(now)
		return tl.limiter
	}

	tl := &timedLimiter{limiter: rate.NewLimiter(limit, burst)}
	tl.lastUsed.Store(now)
	r.localLimiters[key] = tl
	return tl.limiter
}

// CleanupStale drops buckets idle since before that are back at full
// capacity. Buckets still refilling are kept so dropping them cannot hand
// out a fresh burst.
func (r *Limiter) CleanupStale(before time.Time) int {
	r.localMu.Lock()
	defer r.localMu.Unlock()

	cutoff := before.UnixNano()
	removed := 0
	for key, tl := range r.localLimiters {
		if tl.lastUsed.Load() >= cutoff {
			continue
		}
		if tl.limiter.Tokens() >= float64(tl.limiter.Burst()) {
			delete(r.localLimiters, key)
			removed++
		}
	}
	return removed
}
