// Package circuit sheds load from an upstream that keeps failing.
package circuit

import (
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits one trial call at a time.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Transition reports the state before and after a recorded outcome.
type Transition struct {
	From, To State
}

// Changed reports whether the outcome moved the breaker.
func (t Transition) Changed() bool { return t.From != t.To }

// Breaker opens after a run of consecutive failures. Once the cooldown has
// elapsed it goes half-open and admits single trial calls; enough consecutive
// trial successes close it, any trial failure reopens it.
type Breaker struct {
	name             string
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	now              func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	probing   bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the breaker.
// Default 5.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many trial successes close it. Default 2.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// WithCooldown sets how long the breaker stays open. Default 5s.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a closed breaker.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 2,
		cooldown:         5 * time.Second,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name labels the breaker in logs and metrics.
func (b *Breaker) Name() string { return b.name }

// State returns the current position. An open breaker whose cooldown has
// elapsed reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	return b.state
}

// Allow reports whether a call may go upstream. Every admitted call must be
// followed by RecordSuccess or RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// RecordSuccess records a call the upstream answered.
func (b *Breaker) RecordSuccess() Transition {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := Transition{From: b.state}

	b.failures = 0
	if b.state == StateHalfOpen {
		b.probing = false
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = StateClosed
			b.successes = 0
		}
	}
	t.To = b.state
	return t
}

// RecordFailure records a call the upstream did not answer.
func (b *Breaker) RecordFailure() Transition {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := Transition{From: b.state}

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.openLocked()
		}
	case StateHalfOpen:
		b.openLocked()
	}
	t.To = b.state
	return t
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures, b.successes = 0, 0
	b.probing = false
}

func (b *Breaker) openLocked() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures, b.successes = 0, 0
	b.probing = false
}

func (b *Breaker) advanceLocked() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = StateHalfOpen
	}
}
