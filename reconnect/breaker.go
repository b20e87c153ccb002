package reconnect

import (
	"sync"
	"time"
)

type breakerState int

const (
	closed breakerState = iota
	open
	halfOpen
)

// Breaker is a circuit breaker that can front a retry loop: once
// FailureThreshold consecutive failures are recorded, it opens and
// rejects calls for RecoveryTimeout; it then allows trial calls, and
// closes again after SuccessThreshold consecutive successes.
type Breaker struct {
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration

	mu          sync.Mutex
	state       breakerState
	failures    int
	successes   int
	openedAt    time.Time
	trialInUse  bool
}

// Allow reports whether a call should be attempted right now. If the
// breaker is open but RecoveryTimeout has elapsed, it transitions to
// half-open and allows exactly one trial call through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case closed:
		return true
	case open:
		if time.Since(b.openedAt) < b.RecoveryTimeout {
			return false
		}
		b.state = halfOpen
		b.trialInUse = true
		return true
	case halfOpen:
		if b.trialInUse {
			return false
		}
		b.trialInUse = true
		return true
	default:
		return true
	}
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case halfOpen:
		b.successes++
		b.trialInUse = false
		if b.successes >= max(1, b.SuccessThreshold) {
			b.reset()
		}
	case closed:
		b.failures = 0
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case halfOpen:
		b.trip()
	case closed:
		b.failures++
		if b.failures >= max(1, b.FailureThreshold) {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = open
	b.openedAt = time.Now()
	b.failures = 0
	b.successes = 0
	b.trialInUse = false
}

func (b *Breaker) reset() {
	b.state = closed
	b.failures = 0
	b.successes = 0
	b.trialInUse = false
}
