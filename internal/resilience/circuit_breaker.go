package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without trying it.
var ErrOpen = errors.New("circuit breaker is open")

// State of a circuit breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Breaker guards a flaky dependency. After maxFailures consecutive
// failures it rejects calls outright for resetTimeout, then lets probe
// calls through (half-open) until enough succeed to close again. The
// relay wraps each inference engine in one so a dead backend degrades to
// skipped ticks instead of a pile-up of slow failing calls.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	probeQuota   int

	mu           sync.Mutex
	state        State
	failures     int
	probeSuccess int
	lastFailure  time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, maxFailures int, resetTimeout time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		probeQuota:   3,
	}
}

// Call runs fn under the breaker. When the breaker is open, fn is not
// invoked and ErrOpen is returned.
func (b *Breaker) Call(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	b.record(err == nil)
	return err
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the dependency name the breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.lastFailure) >= b.resetTimeout {
			b.state = HalfOpen
			b.probeSuccess = 0
			return true
		}
		return false
	case HalfOpen:
		return true
	}
	return false
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		switch b.state {
		case Closed:
			b.failures = 0
		case HalfOpen:
			b.probeSuccess++
			if b.probeSuccess >= b.probeQuota {
				b.state = Closed
				b.failures = 0
			}
		}
		return
	}

	b.lastFailure = time.Now()
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.maxFailures {
			b.state = Open
		}
	case HalfOpen:
		// A failed probe reopens immediately.
		b.state = Open
	}
}
