package slimlock

import (
	"errors"

	"github.com/dijkstracula/slimlock/internal/pacing"
)

// errRetry and errLostRace are internal-only signals meaning "the
// caller raced with another goroutine touching the head word; reload
// it and try the whole obtain-or-promote dance again." Neither ever
// escapes this package.
var (
	errRetry    = errors.New("slimlock: promotion lost a race, retry")
	errLostRace = errors.New("slimlock: pegging lost a race, retry")
)

// promote associates a freshly allocated fat record with a head value
// h that the caller has observed to be 0 (nil) or 1 (headHeld). It
// returns the fat record locked on success. Initialization happens
// entirely before the CAS that publishes the record, and the record's
// inner mutex is held across that publish, so no other goroutine can
// observe a partially-initialized fat record.
func (l *Lock) promote(h *node) (*fatRecord, error) {
	f := newFatRecord(h == headHeld)
	f.mu.Lock()
	if l.head.CompareAndSwap(h, f.asNode()) {
		l.notifyPromoted()
		return f, nil
	}
	f.mu.Unlock()
	return nil, errRetry
}

// findFat walks a chain starting at n until it reaches the terminal
// fat record. It performs no synchronization of its own: by the time
// this is called the caller already holds a peg pinning the chain, so
// every next pointer it follows is guaranteed to still be valid.
func findFat(n *node) *fatRecord {
	for n.tag != tagFat {
		n = pegFromNode(n).next
	}
	return fatFromNode(n)
}

// peg safely dereferences a pointer head value p (which may reach the
// fat record directly or through a chain of other pegs) by installing
// a new peg of its own, then collapses whatever chain it finds back
// down to a single pointer-to-fat, reclaiming every peg along the way
// whose reference count has dropped to zero.
//
// peg performs no accounting on behalf of the calling goroutine beyond
// correctly preserving fat.refcount's "secondary chain" pin (pin
// reason 4 in the data model): it is purely a safe-dereference
// primitive. Every caller that is not already a pinned owner of the
// lock (lockSlow, tryLockSlow) must mint its own pin with
// fat.refcount.Add(1) immediately after peg succeeds; a caller that is
// already the owner (unlockSlow, the wait family) relies on its
// existing pin to keep the record alive during the consult and need
// not mint another. This split is explained in DESIGN.md.
func (l *Lock) peg(observed *node) (*fatRecord, error) {
	mine := newPegRecord(observed)
	cur := observed

	var bo pacing.Backoff
	for !l.head.CompareAndSwap(cur, mine.asNode()) {
		h := l.head.Load()
		if !isPointer(h) {
			return nil, errLostRace
		}
		mine.next = h
		cur = h
		bo.Sleep()
	}
	l.notifyPegged()

	fat := findFat(mine.next)
	fat.mu.Lock()

	// Collapse the primary chain: whatever the head word holds right
	// now (possibly grown further by other pegging goroutines since we
	// installed mine) becomes q, and head now points directly at fat.
	q := l.head.Swap(fat.asNode())
	fat.refcount.Add(1)

	// Phase 1: walk q, retiring each peg's "reachable from head" pin
	// generically (delta 1), until we land on our own peg, reach the
	// fat record directly, or find a peg whose decremented refcount
	// stays positive (a secondary chain survives rooted there).
	foundOwn := false
	reachedFatPhase1 := false
	cursor := q
walk1:
	for {
		switch {
		case cursor == mine.asNode():
			foundOwn = true
			break walk1
		case cursor == fat.asNode():
			reachedFatPhase1 = true
			break walk1
		default:
			pr := pegFromNode(cursor)
			next := pr.next
			if pr.refcount.Add(-1) > 0 {
				break walk1
			}
			cursor = next
		}
	}

	// Phase 2: our own peg is always retired here, combining the
	// head-link pin (if phase 1 actually found it still on the
	// collapsed chain) with the installer's pin we have held since
	// step one of this call.
	delta := int32(1)
	if foundOwn {
		delta = 2
	}
	reachedFatPhase2 := false
	if mine.refcount.Add(-delta) == 0 {
		cursor = mine.next
		for cursor != fat.asNode() {
			pr := pegFromNode(cursor)
			next := pr.next
			if pr.refcount.Add(-1) > 0 {
				cursor = nil
				break
			}
			cursor = next
		}
		if cursor == fat.asNode() {
			reachedFatPhase2 = true
		}
	}

	// These are two independent illusory-reservation retirements, not
	// one: phase 1 reaching fat directly means this call's own Swap
	// already found the primary chain fully collapsed with nothing of
	// ours left to walk, while phase 2 reaching fat means draining
	// this call's own peg chain ran all the way down with no secondary
	// chain surviving -- a separate, earlier call's reservation for a
	// secondary chain that has only now finished collapsing. Both can
	// fire on the same call (layered pegs draining in sequence), and
	// each retires a distinct fat.refcount.Add(1) made at some step 5,
	// so both decrements must happen, not just one.
	if reachedFatPhase1 {
		fat.refcount.Add(-1)
	}
	if reachedFatPhase2 {
		fat.refcount.Add(-1)
	}

	return fat, nil
}

// obtainOrPromote is the dispatcher of section 4.4: given an observed
// head value h, it promotes a bare word into a fat record or pegs an
// existing chain down to one, whichever applies.
func (l *Lock) obtainOrPromote(h *node) (*fatRecord, error) {
	if isPointer(h) {
		return l.peg(h)
	}
	return l.promote(h)
}

// consultOwned is the common head of unlockSlow and the wait family:
// it reaches the current fat record (inflating if necessary) and
// verifies the calling goroutine may legitimately be the owner,
// without minting a new pin -- the caller's own pre-existing pin,
// established at the Lock call that is now being released or waited
// on, is what keeps the record alive for the duration of this call.
//
// A head value of nil means the lock is not held by anyone, full
// stop: that case is rejected before ever calling obtain-or-promote,
// so a Wait or Unlock against a never-locked Lock cannot promote it
// into a zero-refcount fat record that nothing would ever collapse.
func (l *Lock) consultOwned() (*fatRecord, error) {
	h := l.head.Load()
	for {
		if h == nil {
			return nil, ErrNotOwner
		}
		f, err := l.obtainOrPromote(h)
		if err != nil {
			h = l.head.Load()
			continue
		}
		if !f.held {
			f.mu.Unlock()
			return nil, ErrNotOwner
		}
		return f, nil
	}
}

// releaseFat retires one pin on f (f.mu must be held on entry) and, if
// that was the last pin and the head word still points directly at f,
// demotes the lock back to a bare, unheld head word. f.mu is always
// unlocked by the time releaseFat returns.
func (l *Lock) releaseFat(f *fatRecord) {
	rc := f.refcount.Add(-1)
	if rc == 0 && l.head.CompareAndSwap(f.asNode(), nil) {
		f.mu.Unlock()
		l.notifyCollapsed()
		return
	}
	f.mu.Unlock()
}

// reacquireLocked implements the blocking half of slow-path acquire
// (section 4.5, "if fat.held == 0 ... else ..."): f.mu must be held on
// entry and remains held on return, with f.held set to true and this
// goroutine now the owner.
func reacquireLocked(f *fatRecord) {
	for f.held {
		f.waiters++
		f.cond.Wait()
		f.waiters--
	}
	f.held = true
}
