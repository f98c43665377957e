package tycoon

import "time"

// Backoff is a bounded exponential retry policy. Attempt numbering is
// zero-based; Next doubles Base per attempt and caps at Max.
type Backoff struct {
	Base     time.Duration
	Max      time.Duration
	Attempts int
}

// DefaultBackoff suits short network retries: 250ms, 500ms, 1s, 2s, 4s.
var DefaultBackoff = Backoff{Base: 250 * time.Millisecond, Max: 4 * time.Second, Attempts: 5}

// Next returns the delay before retry attempt n.
func (b Backoff) Next(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := b.Base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Exhausted reports whether attempt n exceeds the retry budget.
func (b Backoff) Exhausted(n int) bool {
	return b.Attempts > 0 && n >= b.Attempts
}
