// Package resiliency wraps calls to unreliable external dependencies (the
// LLM calls governed agents make to generate content) in a circuit breaker
// and an outbound rate cap.
package resiliency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned fail-fast while the breaker is open, so callers
// can distinguish breaker rejections from wrapped-call failures.
var ErrCircuitOpen = errors.New("resiliency: circuit open")

// State is the breaker's position in its recovery state machine.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Settings configure one breaker.
type Settings struct {
	// FailureThreshold consecutive trip-worthy failures open the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before probing.
	RecoveryTimeout time.Duration
	// HalfOpenSuccessThreshold consecutive successes close a half-open
	// circuit.
	HalfOpenSuccessThreshold int
	// ShouldTrip decides whether an error counts against the threshold.
	// Non-transient errors (validation failures) should return false. Nil
	// means every error trips.
	ShouldTrip func(error) bool
}

// DefaultSettings are conservative production defaults.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold:         5,
		RecoveryTimeout:          10 * time.Second,
		HalfOpenSuccessThreshold: 2,
	}
}

// Breaker implements closed -> open -> half_open -> closed with a
// consecutive-failure trip and a success-counted recovery.
type Breaker struct {
	name     string
	settings Settings

	mu                sync.Mutex
	state             State
	consecutiveFails  int
	halfOpenSuccesses int
	openedAt          time.Time
	clock             func() time.Time
}

func NewBreaker(name string, settings Settings) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultSettings().FailureThreshold
	}
	if settings.RecoveryTimeout <= 0 {
		settings.RecoveryTimeout = DefaultSettings().RecoveryTimeout
	}
	if settings.HalfOpenSuccessThreshold <= 0 {
		settings.HalfOpenSuccessThreshold = DefaultSettings().HalfOpenSuccessThreshold
	}
	return &Breaker{
		name:     name,
		settings: settings,
		state:    StateClosed,
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (b *Breaker) WithClock(clock func() time.Time) *Breaker {
	b.clock = clock
	return b
}

// Name returns the service name the breaker guards.
func (b *Breaker) Name() string { return b.name }

// State reports the current state, applying the open -> half_open
// transition when the recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.clock().Sub(b.openedAt) >= b.settings.RecoveryTimeout {
		b.state = StateHalfOpen
		b.halfOpenSuccesses = 0
	}
	return b.state
}

// Execute runs fn under the breaker. While open it fails fast with
// ErrCircuitOpen without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	b.mu.Lock()
	if b.currentState() == StateOpen {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
	}
	b.mu.Unlock()

	err := fn(ctx)
	if err != nil {
		b.recordFailure(err)
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) recordFailure(err error) {
	if b.settings.ShouldTrip != nil && !b.settings.ShouldTrip(err) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.currentState() {
	case StateHalfOpen:
		// Any half-open failure re-opens immediately.
		b.trip()
	case StateClosed:
		b.consecutiveFails++
		if b.consecutiveFails >= b.settings.FailureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.currentState() {
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.settings.HalfOpenSuccessThreshold {
			b.state = StateClosed
			b.consecutiveFails = 0
			b.halfOpenSuccesses = 0
		}
	case StateClosed:
		b.consecutiveFails = 0
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.clock()
	b.consecutiveFails = 0
	b.halfOpenSuccesses = 0
}

// Registry hands out one breaker per external service name.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	defaults Settings
}

func NewRegistry(defaults Settings) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
	}
}

// Get returns the breaker for the service, creating it with the registry
// defaults on first use.
func (r *Registry) Get(serviceName string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[serviceName]
	if !ok {
		b = NewBreaker(serviceName, r.defaults)
		r.breakers[serviceName] = b
	}
	return b
}
