// Package reconnect implements the exponential-backoff retry loop and
// circuit breaker that drive automatic reconnection of a dropped DBus
// connection.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Kind classifies why a connection attempt failed, which determines
// whether the reconnection loop retries it.
type Kind int

const (
	// Transient covers errors expected to resolve on their own (a
	// socket reset, a connection refused while the bus is restarting).
	Transient Kind = iota
	// Authentication covers SASL failures: retrying with the same
	// credentials will not help.
	Authentication
	// Configuration covers malformed addresses, missing environment,
	// and similar caller errors.
	Configuration
	// ResourceExhaustion covers local resource limits (too many open
	// files, out of memory). Retried with the same backoff as
	// Transient.
	ResourceExhaustion
	// Protocol covers DBus framing/codec errors from a connection that
	// otherwise dialed successfully.
	Protocol
	// Unknown covers anything not classified by the caller.
	Unknown
)

// Classifier assigns a Kind to an error returned by a connection
// attempt. Callers supply one that understands their own transport
// and SASL error types.
type Classifier func(error) Kind

// Policy configures the backoff and retry limits.
type Policy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay, before jitter.
	MaxDelay time.Duration
	// Multiplier scales the delay on each successive attempt.
	Multiplier float64
	// JitterFactor adds up to ±JitterFactor*delay of random noise.
	JitterFactor float64
	// MaxAttempts bounds the number of retries. Zero means unlimited.
	MaxAttempts int
	// Classify determines whether an error should be retried. If nil,
	// every error is treated as Transient.
	Classify Classifier
}

// DefaultPolicy matches the values named in the reconnection
// algorithm: a 1s base delay growing by 1.6x per attempt, capped at
// 30s, with 20% jitter and no attempt limit.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   1.6,
		JitterFactor: 0.2,
	}
}

// Delay returns the backoff delay for the given zero-based attempt
// number, including jitter.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * pow(p.Multiplier, attempt)
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	if p.JitterFactor > 0 {
		jitter := d * p.JitterFactor
		d += (rand.Float64()*2 - 1) * jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func pow(base float64, exp int) float64 {
	ret := 1.0
	for range exp {
		ret *= base
	}
	return ret
}

// shouldRetry applies the classifier and the unknown-errors-retry-to-
// half-the-limit rule from the reconnection algorithm.
func (p Policy) shouldRetry(attempt int, err error) bool {
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return false
	}
	classify := p.Classify
	if classify == nil {
		classify = func(error) Kind { return Transient }
	}
	switch classify(err) {
	case Authentication, Configuration:
		return false
	case Unknown:
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts/2 {
			return false
		}
		return true
	default:
		return true
	}
}

var ErrGaveUp = errors.New("reconnect: exhausted retry attempts")

// Loop retries connect until it succeeds, its error is classified as
// non-retryable, attempts are exhausted, or ctx is done. It calls
// onRetry (if non-nil) before each sleep, with the attempt number
// (zero-based) and the delay about to be taken.
func Loop[T any](ctx context.Context, p Policy, connect func(context.Context) (T, error), onRetry func(attempt int, delay time.Duration, err error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		v, err := connect(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !p.shouldRetry(attempt, err) {
			return zero, fmt.Errorf("%w: %v", ErrGaveUp, err)
		}
		delay := p.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		}
	}
}
