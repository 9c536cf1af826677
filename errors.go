package slimlock

import "errors"

// Sentinel errors returned by the public operations. Matching Go
// sync-package convention (and the teacher's own plain-bool style),
// these are bare package-level values rather than a wrapped-error
// hierarchy: there is nothing here worth wrapping or annotating
// beyond the three cases declared below.
var (
	// ErrBusy is returned by Destroy against a Lock that is held or
	// inflated. TryLock and TryLockErr report an already-held Lock by
	// returning false, not ErrBusy.
	ErrBusy = errors.New("slimlock: busy")

	// ErrNotOwner is returned by Unlock, Wait, or WaitTimeout when
	// called on a Lock that is not held, or (in principle) held by
	// another goroutine -- this package does not track goroutine
	// identity, so "not owner" degrades to "not held" here; see
	// DESIGN.md for why that is the faithful Go rendering of the
	// spec's ownership check.
	ErrNotOwner = errors.New("slimlock: not owner")

	// ErrTimeout is returned by WaitTimeout when its deadline elapses
	// before the condition variable is signaled.
	ErrTimeout = errors.New("slimlock: wait timed out")
)
