// Package backoff provides the reconnect delay policies shared by the
// signaling layer. The platform's original clients retried on a fixed
// timer (3s for chat, 5s for call signaling) with no cap on attempts;
// Fixed preserves that behavior. Exponential is the hardened alternative
// for deployments that can tolerate the timing change.
package backoff

import "time"

// Policy computes the delay before reconnect attempt n (0-based).
type Policy interface {
	Next(attempt int) time.Duration
}

// Fixed returns the same delay for every attempt.
type Fixed time.Duration

// Next implements Policy.
func (f Fixed) Next(int) time.Duration { return time.Duration(f) }

// Exponential doubles the delay each attempt, capped at Cap.
type Exponential struct {
	Base time.Duration
	Cap  time.Duration
}

// Next implements Policy.
func (e Exponential) Next(attempt int) time.Duration {
	d := e.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= e.Cap {
			return e.Cap
		}
	}
	if e.Cap > 0 && d > e.Cap {
		return e.Cap
	}
	return d
}
