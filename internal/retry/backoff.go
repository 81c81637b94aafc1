package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Backoff returns min(base*2^n + uniform(0, jitter), maxDelay) for the n-th
// rate-limit retry (zero-based). Negative n is treated as zero.
func (p *Policy) Backoff(n int) time.Duration {
	n = max(n, 0)
	// Comparing against the shifted-down cap keeps base<<n from overflowing.
	if n >= 63 || p.cfg.BaseDelay > p.cfg.MaxDelay>>n {
		return p.cfg.MaxDelay
	}

	exp := p.cfg.BaseDelay << n
	if exp >= p.cfg.MaxDelay {
		return p.cfg.MaxDelay
	}

	delay := exp
	if p.cfg.Jitter > 0 {
		delay += p.jitter(p.cfg.Jitter)
	}
	return min(delay, p.cfg.MaxDelay)
}

// uniformJitter returns a random duration in [0, bound).
func uniformJitter(bound time.Duration) time.Duration {
	if bound <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(bound))) // #nosec G404 -- non-cryptographic jitter is appropriate here
}

// Wait blocks for d or until ctx is done. A non-positive d only checks ctx.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before retry: %w", err)
		}
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
	}
}
