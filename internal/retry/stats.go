package retry

import (
	"sync/atomic"
	"time"
)

// policyStats counts decisions with atomics; one Policy is shared by every
// worker of a run.
type policyStats struct {
	decisions        atomic.Int64
	accepted         atomic.Int64
	givenUp          atomic.Int64
	contentRetries   atomic.Int64
	rateLimitRetries atomic.Int64
	lowScores        atomic.Int64
	maxBackoff       atomic.Int64 // nanoseconds
}

// Stats is a snapshot of a Policy's decisions.
type Stats struct {
	Decisions        int64         `json:"decisions"`
	Accepted         int64         `json:"accepted"`
	GivenUp          int64         `json:"given_up"`
	ContentRetries   int64         `json:"content_retries"`
	RateLimitRetries int64         `json:"rate_limit_retries"`
	LowScores        int64         `json:"low_scores"`
	MaxBackoff       time.Duration `json:"max_backoff"`
}

func (s *policyStats) record(kind OutcomeKind, d Decision) {
	s.decisions.Add(1)
	if kind == OutcomeLowScore {
		s.lowScores.Add(1)
	}

	switch d.Action {
	case ActionAccept:
		s.accepted.Add(1)
	case ActionGiveUp:
		s.givenUp.Add(1)
	case ActionRetry:
		if d.ConsumesAttempt {
			s.contentRetries.Add(1)
		} else {
			s.rateLimitRetries.Add(1)
		}
		s.observeBackoff(d.Delay)
	}
}

func (s *policyStats) observeBackoff(d time.Duration) {
	nanos := d.Nanoseconds()
	for {
		current := s.maxBackoff.Load()
		if nanos <= current {
			return
		}
		if s.maxBackoff.CompareAndSwap(current, nanos) {
			return
		}
	}
}

// Stats returns a snapshot of the decisions made so far.
func (p *Policy) Stats() Stats {
	return Stats{
		Decisions:        p.stats.decisions.Load(),
		Accepted:         p.stats.accepted.Load(),
		GivenUp:          p.stats.givenUp.Load(),
		ContentRetries:   p.stats.contentRetries.Load(),
		RateLimitRetries: p.stats.rateLimitRetries.Load(),
		LowScores:        p.stats.lowScores.Load(),
		MaxBackoff:       time.Duration(p.stats.maxBackoff.Load()),
	}
}
