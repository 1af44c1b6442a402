package stream

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current position.
type BreakerState int

const (
	// BreakerClosed allows all deliveries.
	BreakerClosed BreakerState = iota
	// BreakerOpen skips deliveries until the cooldown deadline passes.
	BreakerOpen
	// BreakerHalfOpen allows exactly one probe delivery.
	BreakerHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerStatus is a point-in-time snapshot of the breaker.
type BreakerStatus struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Threshold           int       `json:"threshold"`
	CooldownDeadline    time.Time `json:"cooldown_deadline,omitempty"`
}

// Breaker is a three-state circuit breaker shared by both buffer flush
// paths. After threshold consecutive delivery failures it opens and skips
// flushes until the cooldown elapses, then lets exactly one probe through:
// a successful probe closes it, a failed probe re-opens it with a fresh
// cooldown.
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	threshold int
	cooldown  time.Duration
	deadline  time.Time
	probing   bool

	now func() time.Time // swapped in tests
}

// NewBreaker creates a closed breaker.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		state:     BreakerClosed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a delivery attempt may proceed. When the breaker is
// open and the cooldown has elapsed, it transitions to half-open and admits
// the caller as the single probe; concurrent callers are refused until the
// probe resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Before(b.deadline) {
			return false
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return true
	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// RecordSuccess notes a successful delivery. A half-open probe success
// closes the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
	b.deadline = time.Time{}
}

// RecordFailure notes a failed delivery. A half-open probe failure re-opens
// the breaker with a fresh cooldown; in the closed state, reaching the
// threshold opens it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.probing = false

	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.deadline = b.now().Add(b.cooldown)
	case BreakerClosed:
		if b.failures >= b.threshold {
			b.state = BreakerOpen
			b.deadline = b.now().Add(b.cooldown)
		}
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns a snapshot of the breaker.
func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStatus{
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
		Threshold:           b.threshold,
		CooldownDeadline:    b.deadline,
	}
}
