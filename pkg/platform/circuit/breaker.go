// Package circuit provides a consecutive-failure circuit breaker.
//
// The orchestrator keeps one breaker per external validator: after N
// consecutive failures the breaker opens and calls are shed. Once the
// cool-off elapses the breaker turns half-open and lets trial calls
// through; M consecutive successes close it again, one failure re-opens
// it for another cool-off.
package circuit

import (
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// StateChange reports a transition caused by the record call that returned it.
// Callers use it to log and count open/close events exactly once.
type StateChange struct {
	Opened bool
	Closed bool
}

// Breaker tracks consecutive failures for one named dependency.
type Breaker struct {
	mu               sync.Mutex
	name             string
	state            State
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	coolOff          time.Duration
	openedAt         time.Time
	now              func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many consecutive successes close it again.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// WithCoolOff sets how long the circuit stays fully open before trial calls
// are let through again.
func WithCoolOff(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.coolOff = d
		}
	}
}

// New constructs a closed Breaker named after the dependency it guards.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: 5,
		successThreshold: 3,
		coolOff:          30 * time.Second,
		now:              time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lapse()
	return b.state
}

// IsOpen reports whether calls should currently be shed. An open breaker past
// its cool-off turns half-open here, so the next caller tries the dependency again
// instead of shedding forever.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// lapse advances open to half-open once the cool-off has elapsed. Must be
// called with the lock held.
func (b *Breaker) lapse() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.coolOff {
		b.state = StateHalfOpen
		b.successCount = 0
	}
}

// RecordFailure registers a failed call. It returns whether the caller should
// shed further work, and whether this call transitioned the breaker open.
func (b *Breaker) RecordFailure() (shed bool, change StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lapse()

	b.failureCount++
	b.successCount = 0

	switch b.state {
	case StateOpen:
		return true, StateChange{}
	case StateHalfOpen:
		// A failed trial re-opens for another full cool-off.
		b.state = StateOpen
		b.openedAt = b.now()
		return true, StateChange{Opened: true}
	}
	if b.failureCount >= b.failureThreshold {
		b.state = StateOpen
		b.openedAt = b.now()
		return true, StateChange{Opened: true}
	}
	return false, StateChange{}
}

// RecordSuccess registers a successful call. It returns whether the primary
// path is usable, and whether this call transitioned the breaker closed.
func (b *Breaker) RecordSuccess() (usable bool, change StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lapse()

	if b.state != StateClosed {
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
			return true, StateChange{Closed: true}
		}
		return false, StateChange{}
	}
	b.failureCount = 0
	return true, StateChange{}
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
}
