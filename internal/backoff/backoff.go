// Package backoff implements bounded exponential backoff for transport
// retries: back off exponentially, capped at a maximum, and retry.
// Grounded on the shape of ethereum-go-ethereum's common/backoff package
// (NewExponential(min, max, jitter) / NextDuration()).
package backoff

import (
	"math/rand"
	"time"
)

// Exponential doubles its duration on each call up to max, with optional
// jitter added uniformly in [0, jitter).
type Exponential struct {
	min, max, jitter time.Duration
	attempt          int
}

// NewExponential builds an Exponential backoff. If min > max, every call
// returns max.
func NewExponential(min, max, jitter time.Duration) *Exponential {
	return &Exponential{min: min, max: max, jitter: jitter}
}

// NextDuration returns the delay before the next attempt and advances
// internal state.
func (e *Exponential) NextDuration() time.Duration {
	if e.min > e.max {
		return e.max
	}
	d := e.min << e.attempt
	if d <= 0 || d > e.max {
		d = e.max
	}
	e.attempt++
	if e.jitter > 0 {
		d += time.Duration(rand.Int63n(int64(e.jitter)))
	}
	return d
}

// Reset clears accumulated attempts, e.g. after a successful call.
func (e *Exponential) Reset() { e.attempt = 0 }
