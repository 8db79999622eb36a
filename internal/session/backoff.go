package session

import (
	"math/rand"
	"time"
)

// Backoff computes base*2^attempt plus a random jitter, capped at Max.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration

	rand func() float64
}

// NewBackoff returns the policy used between exchange retries.
func NewBackoff(base, max, jitter time.Duration) *Backoff {
	return &Backoff{Base: base, Max: max, Jitter: jitter, rand: rand.Float64}
}

// Delay returns the wait before retry number attempt (0-based).
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := b.Base << uint(attempt)
	if b.Jitter > 0 {
		r := rand.Float64
		if b.rand != nil {
			r = b.rand
		}
		d += time.Duration(r() * float64(b.Jitter))
	}
	if b.Max > 0 && (d > b.Max || d < 0) {
		d = b.Max
	}
	return d
}
