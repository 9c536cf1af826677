// Package pacing provides a small bounded exponential backoff used by
// the CAS retry loops in the inflation protocol. It is grounded on
// the teacher's own startingBackoff/maxBackoff/backoffFactor constants
// (present in the teacher's ilock.go but never actually consumed by
// any of its lock paths); this package puts those numbers to work.
package pacing

import "time"

const (
	// Start is the first backoff duration a retry loop waits.
	Start = 50 * time.Microsecond
	// Max caps how long a single backoff step may wait.
	Max = 500 * time.Millisecond
	// Factor is the multiplicative growth applied on each retry.
	Factor = 2
)

// Backoff tracks the bounded-exponential delay for a single retry
// loop instance. Its zero value is ready to use and starts at Start.
type Backoff struct {
	cur time.Duration
}

// Next returns how long to sleep before the next retry, and advances
// the internal delay toward Max.
func (b *Backoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = Start
	}
	d := b.cur
	b.cur *= Factor
	if b.cur > Max {
		b.cur = Max
	}
	return d
}

// Sleep waits out Next().
func (b *Backoff) Sleep() {
	time.Sleep(b.Next())
}
