package slimlock

import (
	"sync"
	"time"
)

// Cond is a condition variable meant to be used together with a Lock,
// the way a POSIX cnd_t is used together with a mtx_t: signaled by one
// goroutine, waited on by others that hold the paired Lock.
//
// Go's sync.Cond cannot serve this role directly -- it is permanently
// bound to one Locker at construction, while section 4.8's
// condition-wait needs to release and reacquire whatever fat record a
// Lock currently happens to have, which may not even exist yet at the
// time a Cond is created. Cond is instead a small channel-close
// broadcast (a standard idiomatic alternative to sync.Cond when no
// single fixed Locker is available), with Lock.Wait/WaitTimeout/
// WaitContext taking care of releasing and reacquiring the Lock around
// the wait themselves. See DESIGN.md for the full rationale.
//
// A zero Cond is not ready to use; construct one with NewCond.
type Cond struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewCond returns a ready-to-use Cond.
func NewCond() *Cond {
	return &Cond{ch: make(chan struct{})}
}

// Signal and Broadcast are equivalent here: a channel close wakes
// every current waiter, and the spec's Non-goals already exclude
// fairness or wake-one semantics, so there is no single-waiter variant
// to implement.
func (c *Cond) Signal()    { c.broadcast() }
func (c *Cond) Broadcast() { c.broadcast() }

func (c *Cond) broadcast() {
	c.mu.Lock()
	old := c.ch
	c.ch = make(chan struct{})
	c.mu.Unlock()
	close(old)
}

// sub returns the channel a waiter should block on to observe the next
// signal or broadcast.
func (c *Cond) sub() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch
}

// stopTimer stops t unless it is nil; WaitTimeout defers it to release
// its timer once the wait returns.
func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
