package circuitbreaker

import (
	"sync"
	"time"
)

// State is the position of one breaker in its state machine.
type State int32

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen refuses every call until OpenTimeout has passed.
	StateOpen
	// StateHalfOpen lets a bounded number of probes through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker guards one provider model. Transitions are reported through
// onChange while the lock is held, so observers see them in order.
type breaker struct {
	cfg      Config
	now      func() time.Time
	onChange func(from, to State)

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time
}

// allow reports whether a call may proceed. When it may, done must be
// called with the call's result. When it may not, retryIn is the time left
// until the breaker probes again.
func (b *breaker) allow() (done func(failed bool), retryIn time.Duration, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cfg.OpenTimeout {
			return nil, b.cfg.OpenTimeout - elapsed, false
		}
		b.transition(StateHalfOpen)
	}

	if b.state == StateHalfOpen {
		if b.probes >= b.cfg.HalfOpenProbes {
			return nil, 0, false
		}
		b.probes++
		return b.finishProbe, 0, true
	}
	return b.finish, 0, true
}

func (b *breaker) finish(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// A call admitted while closed may finish after another call opened
	// the circuit; its result no longer matters.
	if b.state != StateClosed {
		return
	}
	if !failed {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.open()
	}
}

func (b *breaker) finishProbe(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateHalfOpen {
		return
	}
	b.probes--
	if failed {
		b.open()
		return
	}
	b.successes++
	if b.successes >= b.cfg.SuccessThreshold {
		b.transition(StateClosed)
	}
}

func (b *breaker) open() {
	b.openedAt = b.now()
	b.transition(StateOpen)
}

func (b *breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.failures, b.successes, b.probes = 0, 0, 0
	if b.onChange != nil {
		b.onChange(from, to)
	}
}

func (b *breaker) current() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
