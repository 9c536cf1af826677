package slimlock

import (
	"context"
	"time"
)

// Lock acquires l, blocking until it is available. The fast path is a
// single CAS of the head word from nil to headHeld; everything past
// that falls to lockSlow, which runs the inflation protocol.
func (l *Lock) Lock() error {
	if l.head.CompareAndSwap(nil, headHeld) {
		return nil
	}
	return l.lockSlow()
}

// lockSlow implements section 4.5: loop observing the head word,
// either winning the bare CAS (if it has gone back to nil since the
// fast path checked), or running obtain-or-promote and blocking on the
// resulting fat record's inner condition variable until it is free.
func (l *Lock) lockSlow() error {
	for {
		h := l.head.Load()
		if h == nil {
			if l.head.CompareAndSwap(nil, headHeld) {
				return nil
			}
			continue
		}

		f, err := l.obtainOrPromote(h)
		if err != nil {
			continue
		}

		// This goroutine is not already represented by any pin on f
		// (it is attempting a fresh acquire), so it mints its own.
		f.refcount.Add(1)
		reacquireLocked(f)
		f.mu.Unlock()
		return nil
	}
}

// Unlock releases l. The fast path is a single CAS of the head word
// from headHeld back to nil; if that fails (the lock is inflated, or
// the caller does not actually hold it), unlockSlow takes over.
func (l *Lock) Unlock() error {
	if l.head.CompareAndSwap(headHeld, nil) {
		return nil
	}
	return l.unlockSlow()
}

// unlockSlow implements section 4.6. The releasing goroutine is, by
// contract, already represented by a pin on the fat record (minted
// back when it acquired the lock), so reaching the record here via peg
// does not mint a second one -- it only locates and safely
// dereferences whatever the head word currently points to.
func (l *Lock) unlockSlow() error {
	// peg's precondition is a genuine pointer head value; a caller
	// that does not actually hold l can observe headHeld here (someone
	// else's uncontended hold) just as easily as nil, and headHeld is
	// not a valid chain to peg against. The real owner can never
	// observe headHeld at this point -- its own pin keeps the fat
	// record (and therefore the pointer head value) alive until this
	// very call retires it -- so either case is conclusively not-owner.
	h := l.head.Load()
	if !isPointer(h) {
		return ErrNotOwner
	}

	var f *fatRecord
	for {
		var err error
		f, err = l.peg(h)
		if err == nil {
			break
		}
		h = l.head.Load()
		if !isPointer(h) {
			return ErrNotOwner
		}
	}

	if !f.held {
		f.mu.Unlock()
		return ErrNotOwner
	}

	f.held = false
	if f.waiters > 0 {
		f.cond.Signal()
	}
	l.releaseFat(f)
	return nil
}

// TryLock acquires l without blocking, reporting whether it succeeded.
func (l *Lock) TryLock() bool {
	ok, _ := l.tryLock()
	return ok
}

// TryLockErr is TryLock's error-returning counterpart: the error is
// always nil today, but is provided (per section 4.9) for parity with
// Lock/Unlock and to leave room for a future failure mode without
// breaking callers.
func (l *Lock) TryLockErr() (bool, error) {
	return l.tryLock()
}

func (l *Lock) tryLock() (bool, error) {
	// Loop rather than falling straight into tryLockSlow on whatever h
	// happens to be: the head word can race back to nil between the
	// failed fast-path CAS and this function observing it (e.g. the
	// uncontended holder unlocks in between), and tryLockSlow's peg
	// call requires its argument to already be a genuine pointer head
	// value -- handing it nil would install a peg with no onward chain
	// to a fat record.
	for {
		if l.head.CompareAndSwap(nil, headHeld) {
			return true, nil
		}
		h := l.head.Load()
		if h == nil {
			continue
		}
		if h == headHeld {
			return false, nil
		}
		return l.tryLockSlow(h)
	}
}

// tryLockSlow implements section 4.9: peg the chain down to the fat
// record, and either claim it (minting a new pin, since a try-locker
// is not already an owner) or release the pin it would have minted and
// report busy.
func (l *Lock) tryLockSlow(h *node) (bool, error) {
	var f *fatRecord
	for {
		var err error
		f, err = l.peg(h)
		if err == nil {
			break
		}
		h = l.head.Load()
		if !isPointer(h) {
			return l.tryLock()
		}
	}

	f.refcount.Add(1)
	if f.held {
		l.releaseFat(f)
		return false, nil
	}
	f.held = true
	f.mu.Unlock()
	return true, nil
}

// Wait releases l, blocks until c is signaled, then reacquires l
// before returning. l must be held by the calling goroutine.
func (l *Lock) Wait(c *Cond) error {
	return l.waitCore(nil, c, nil)
}

// WaitTimeout is Wait with a bound on how long to block; it returns
// ErrTimeout if d elapses before c is signaled. l is always reacquired
// before WaitTimeout returns, timeout or not.
func (l *Lock) WaitTimeout(c *Cond, d time.Duration) error {
	t := time.NewTimer(d)
	defer stopTimer(t)
	return l.waitCore(nil, c, t.C)
}

// WaitContext is Wait, additionally observing ctx's cancellation. This
// is this package's rendering of section 5's "condition-wait honors
// the cancellation semantics of the underlying wait primitive" for a
// host runtime (Go) whose goroutines have no native async-cancellation
// mechanism of their own: ctx.Done() stands in for it. On cancellation,
// per section 4.8's contract, l is still left appearing held to the
// caller -- it is force-reacquired without waiting for held to clear --
// since the caller is expected to Unlock it during its own unwind.
func (l *Lock) WaitContext(ctx context.Context, c *Cond) error {
	return l.waitCore(ctx, c, nil)
}

func (l *Lock) waitCore(ctx context.Context, c *Cond, timeout <-chan time.Time) error {
	f, err := l.consultOwned()
	if err != nil {
		return err
	}

	if f.waiters > 0 {
		f.cond.Signal()
	}
	f.held = false
	// Subscribe to c while f.mu is still held, so that a signaler --
	// which must itself acquire l and therefore f.mu before calling
	// Signal/Broadcast -- cannot close a fresh channel before we have a
	// reference to the one current right now. This is the atomic
	// "release the associated mutex and begin waiting" step section
	// 4.8 asks for; subscribing after the Unlock below would leave a
	// window where a signal between the unlock and the select is
	// missed entirely (a lost wakeup).
	sub := c.sub()
	f.mu.Unlock()

	var done <-chan struct{}
	if ctx != nil {
		done = ctx.Done()
	}

	var waitErr error
	cancelled := false
	select {
	case <-sub:
	case <-timeout:
		waitErr = ErrTimeout
	case <-done:
		waitErr = ctx.Err()
		cancelled = true
	}

	f.mu.Lock()
	if cancelled {
		f.held = true
		f.mu.Unlock()
		return waitErr
	}
	reacquireLocked(f)
	f.mu.Unlock()
	return waitErr
}
