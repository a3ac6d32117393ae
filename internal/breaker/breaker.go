// Package breaker implements a three-state circuit breaker (CLOSED, OPEN,
// HALF_OPEN) used to short-circuit calls to failing external services, plus a
// process-wide registry that dispenses named breakers.
package breaker

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// maxHalfOpenFailuresBeforeDoubling is the number of consecutive HALF_OPEN
// failures after which currentTimeout doubles (spec: "after 3").
const maxHalfOpenFailuresBeforeDoubling = 3

// maxTimeoutCap bounds the exponential doubling of currentTimeout.
const maxTimeoutCap = 5 * time.Minute

// Config configures threshold and timeout behavior for one breaker.
type Config struct {
	FailureThreshold int           // consecutive failures in CLOSED before tripping to OPEN
	SuccessThreshold int           // consecutive successes in HALF_OPEN before closing
	BaseTimeout      time.Duration // initial OPEN-state timeout
	MaxTimeout       time.Duration // cap on the doubled timeout; defaults to maxTimeoutCap
}

// OpenError is raised when execute is denied because the breaker is OPEN and
// its timeout has not elapsed.
type OpenError struct {
	Name      string
	NextRetry time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("breaker %q is open, next retry at %s", e.Name, e.NextRetry.Format(time.RFC3339))
}

// Breaker is a single named circuit breaker instance.
type Breaker struct {
	mu sync.Mutex

	name   string
	config Config
	logger *log.Logger

	state                       State
	failures                    int
	consecutiveSuccesses        int
	lastFailureTime             time.Time
	currentTimeout              time.Duration
	consecutiveHalfOpenFailures int
}

// New creates a breaker with the given name and config.
func New(name string, cfg Config, logger *log.Logger) *Breaker {
	if cfg.MaxTimeout == 0 {
		cfg.MaxTimeout = maxTimeoutCap
	}
	if logger == nil {
		logger = log.New(log.Writer(), fmt.Sprintf("[breaker:%s] ", name), log.LstdFlags)
	}
	return &Breaker{
		name:           name,
		config:         cfg,
		logger:         logger,
		state:          Closed,
		currentTimeout: cfg.BaseTimeout,
	}
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, resolving an elapsed OPEN timeout to
// HALF_OPEN as a side effect.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpen(time.Now())
	return b.state
}

// Execute runs fn unless the breaker denies the call. On OPEN with the
// timeout unexpired, it fails fast with *OpenError without invoking fn.
func (b *Breaker) Execute(fn func() error) error {
	now := time.Now()

	b.mu.Lock()
	b.maybeTransitionToHalfOpen(now)
	if b.state == Open {
		nextRetry := b.lastFailureTime.Add(b.currentTimeout)
		b.mu.Unlock()
		return &OpenError{Name: b.name, NextRetry: nextRetry}
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recordFailureLocked(time.Now())
	} else {
		b.recordSuccessLocked()
	}
	return err
}

// maybeTransitionToHalfOpen moves OPEN -> HALF_OPEN once the timeout has
// elapsed. Must be called with b.mu held.
func (b *Breaker) maybeTransitionToHalfOpen(now time.Time) {
	if b.state == Open && now.Sub(b.lastFailureTime) >= b.currentTimeout {
		b.state = HalfOpen
		b.consecutiveSuccesses = 0
		b.logger.Printf("breaker %q: OPEN timeout elapsed, transitioning to HALF_OPEN", b.name)
	}
}

func (b *Breaker) recordFailureLocked(now time.Time) {
	b.lastFailureTime = now

	switch b.state {
	case Closed:
		b.failures++
		if b.config.FailureThreshold > 0 && b.failures >= b.config.FailureThreshold {
			b.tripLocked()
		}
	case HalfOpen:
		b.consecutiveHalfOpenFailures++
		b.state = Open
		b.consecutiveSuccesses = 0
		if b.consecutiveHalfOpenFailures >= maxHalfOpenFailuresBeforeDoubling {
			b.currentTimeout *= 2
			if b.currentTimeout > b.config.MaxTimeout {
				b.currentTimeout = b.config.MaxTimeout
			}
			b.logger.Printf("breaker %q: %d consecutive half-open failures, timeout doubled to %s",
				b.name, b.consecutiveHalfOpenFailures, b.currentTimeout)
		}
		b.logger.Printf("breaker %q: half-open probe failed, reopening", b.name)
	case Open:
		// Already open; nothing further to do.
	}
}

func (b *Breaker) recordSuccessLocked() {
	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.consecutiveSuccesses++
		if b.config.SuccessThreshold <= 0 || b.consecutiveSuccesses >= b.config.SuccessThreshold {
			b.state = Closed
			b.failures = 0
			b.consecutiveSuccesses = 0
			b.consecutiveHalfOpenFailures = 0
			b.currentTimeout = b.config.BaseTimeout
			b.logger.Printf("breaker %q: closed after successful half-open probes", b.name)
		}
	case Open:
		// A success cannot be observed while OPEN (execute fails fast); no-op.
	}
}

func (b *Breaker) tripLocked() {
	b.state = Open
	b.logger.Printf("breaker %q: tripped to OPEN after %d consecutive failures (timeout=%s)",
		b.name, b.failures, b.currentTimeout)
}

// Reset forces the breaker back to CLOSED with counters cleared.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.consecutiveSuccesses = 0
	b.consecutiveHalfOpenFailures = 0
	b.currentTimeout = b.config.BaseTimeout
}

// UpdateConfig replaces the breaker's threshold configuration without
// resetting its current state.
func (b *Breaker) UpdateConfig(cfg Config) {
	if cfg.MaxTimeout == 0 {
		cfg.MaxTimeout = maxTimeoutCap
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = cfg
}

// Failures returns the current consecutive failure count (CLOSED state only
// is meaningful; retained across states for introspection/tests).
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// CurrentTimeout returns the breaker's current OPEN-state timeout.
func (b *Breaker) CurrentTimeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentTimeout
}
