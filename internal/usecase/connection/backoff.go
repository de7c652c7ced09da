package connection

import (
	"math/rand"
	"time"
)

// Backoff is a capped exponential reconnect delay with jitter.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// NoJitter disables the 0-25% random extension. Used by tests.
	NoJitter bool
}

// DefaultBackoff starts at one second and caps at thirty.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 30 * time.Second}
}

// Delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	delay := base * time.Duration(1<<uint(shift))
	if b.Max > 0 && (delay > b.Max || delay <= 0) {
		delay = b.Max
	}
	if b.NoJitter {
		return delay
	}
	// Add 0-25% jitter.
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}
