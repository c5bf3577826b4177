package conn

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: min(Base << attempt, Cap) plus random
// jitter, with the exponent capped at MaxAttempt.
type Backoff struct {
	Base       time.Duration
	Cap        time.Duration
	Jitter     time.Duration
	MaxAttempt int

	attempt int
}

func NewBackoff(base, cap, jitter time.Duration, maxAttempt int) *Backoff {
	return &Backoff{Base: base, Cap: cap, Jitter: jitter, MaxAttempt: maxAttempt}
}

// NextDelay is the pure schedule, no jitter. Exposed separately so the
// retry curve is testable without timers.
func (b *Backoff) NextDelay(attempt int) time.Duration {
	if attempt > b.MaxAttempt {
		attempt = b.MaxAttempt
	}
	d := b.Base << attempt
	if d > b.Cap || d <= 0 {
		d = b.Cap
	}
	return d
}

// Next returns the delay for the current attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	d := b.NextDelay(b.attempt)
	b.attempt++
	if b.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(b.Jitter)))
	}
	return d
}

func (b *Backoff) Attempt() int { return b.attempt }

func (b *Backoff) Reset() { b.attempt = 0 }
