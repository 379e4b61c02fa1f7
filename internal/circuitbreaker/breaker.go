// Package circuitbreaker suppresses fires of persistently failing jobs.
//
// One breaker tracks consecutive run failures per job code. After
// threshold failures the breaker opens and fires for that code are
// skipped until the cooldown elapses; the first run after cooldown is a
// half-open probe whose outcome closes or re-opens the breaker.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type codeState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

type CircuitBreaker struct {
	mu        sync.Mutex
	states    map[string]*codeState
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		states:    make(map[string]*codeState),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// Allow reports whether a fire for code may proceed.
func (cb *CircuitBreaker) Allow(code string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[code]
	if !ok {
		return nil
	}

	switch s.state {
	case stateClosed:
		return nil
	case stateOpen:
		if cb.clock().Sub(s.openedAt) >= cb.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		// A probe run is already in flight.
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(code string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[code]
	if !ok {
		return
	}
	s.state = stateClosed
	s.consecutiveFailures = 0
}

func (cb *CircuitBreaker) RecordFailure(code string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[code]
	if !ok {
		s = &codeState{}
		cb.states[code] = s
	}

	s.consecutiveFailures++
	if s.consecutiveFailures >= cb.threshold {
		s.state = stateOpen
		s.openedAt = cb.clock()
	}
}

// Forget drops breaker state for a code, typically when its live timer
// is removed.
func (cb *CircuitBreaker) Forget(code string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.states, code)
}
