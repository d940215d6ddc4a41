package asynclogger

import (
	"log/slog"
	"sync"
	"time"
)

// circuitState is Closed or Open. Unlike a 3-state breaker, there is no
// named half-open state: while Open, one probe send is allowed through
// per reset_interval, tracked with the probing flag below.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
)

func (s circuitState) String() string {
	if s == circuitOpen {
		return "open"
	}
	return "closed"
}

// circuitBreaker counts full-batch send failures, not per-item errors.
// Closed moves to Open once consecutiveFailures reaches the threshold.
// While Open, Allow() returns false to every caller until resetInterval has
// elapsed since the last failure, at which point it lets exactly one
// probe through. A probe success closes the breaker and zeroes the
// counter; a probe failure reopens it and restarts the reset timer.
type circuitBreaker struct {
	threshold     int
	resetInterval time.Duration

	mu       sync.Mutex
	state    circuitState
	failures int
	openedAt time.Time
	probing  bool
}

func newCircuitBreaker(threshold int, resetInterval time.Duration) *circuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetInterval <= 0 {
		resetInterval = 30 * time.Second
	}
	return &circuitBreaker{threshold: threshold, resetInterval: resetInterval, state: circuitClosed}
}

// Allow reports whether a send attempt may proceed. When the breaker is
// open and the reset interval has elapsed, it admits exactly one probe
// and marks it in-flight so concurrent workers don't all probe at once.
func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		return true
	default: // circuitOpen
		if cb.probing {
			return false
		}
		if time.Since(cb.openedAt) < cb.resetInterval {
			return false
		}
		cb.probing = true
		return true
	}
}

// RecordSuccess reports a successful batch send.
func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.probing = false
	cb.state = circuitClosed
}

// RecordFailure reports a failed batch send.
func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == circuitOpen {
		// the probe failed: stay open, restart the reset timer
		cb.probing = false
		cb.openedAt = time.Now()
		slog.Warn("circuit breaker probe failed, staying open", "state", cb.state.String())
		return
	}

	cb.failures++
	if cb.failures >= cb.threshold {
		cb.state = circuitOpen
		cb.openedAt = time.Now()
		cb.probing = false
		slog.Warn("circuit breaker opened", "state", cb.state.String(), "failures", cb.failures)
	}
}

// IsOpen reports whether the breaker currently blocks sends (ignoring
// the one-probe exception, which callers observe via Allow).
func (cb *circuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == circuitOpen
}
