// Package backoff computes capped exponential reconnect delays.
package backoff

import "time"

// Policy describes a bounded exponential backoff.
type Policy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Delay returns the wait before the given 1-based attempt:
// Base * 2^(attempt-1), never above Max.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Exhausted reports whether attempt exceeds the configured cap.
func (p Policy) Exhausted(attempt int) bool {
	return attempt > p.MaxAttempts
}
