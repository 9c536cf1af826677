// Copyright 2020 Nathan Taylor (nbtaylor@gmail.com)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package slimlock implements a "skinny" mutex: a lock whose idle
// representation is a single machine word, with the full behavior of a
// blocking mutex (Lock/Unlock/TryLock) plus a condition-variable pair
// (Wait/WaitTimeout) only paying for a heap-allocated, kernel-backed
// wait queue once a Lock is actually contended or waited on.
//
// A zero Lock is an unlocked lock ready for use; there is no New or
// Init required, though Init is provided for symmetry with callers
// that want to reuse a Lock value after Destroy.
//
// The implementation keeps a single atomic pointer, the "head word",
// which is in one of three states:
//
//   - nil: unheld, no heavyweight record exists.
//   - headHeld (a package-level sentinel): held by exactly one
//     goroutine, uncontended, no heavyweight record exists.
//   - any other pointer: the head of a chain of transient "peg"
//     records terminating in a "fat" record, the heavyweight state
//     used once the lock has been contended or waited on.
//
// The chain-walking, reference-counted promotion/collapse discipline
// that maintains this invariant without races or use-after-free is
// implemented in inflate.go; it is the load-bearing part of this
// package. See record.go for the two record kinds and ops.go for the
// public operations built on top of them.
//
// Because Go's fat/peg records are ordinary garbage-collected heap
// objects reachable only through the head word and the "next" chain,
// "freeing" a record in this implementation just means dropping the
// last strong reference to it and letting the garbage collector
// reclaim it later; there is no explicit free call, and no explicit
// destruction of the inner sync.Mutex/sync.Cond either (the host
// runtime's blocking primitives are an external collaborator, per
// design, and need no teardown step in Go).
package slimlock

import (
	"sync/atomic"
)

// nodeTag discriminates a pegRecord from a fatRecord when walking a
// chain reached through the head word, without knowing in advance
// which kind of record a given next pointer reaches.
type nodeTag uint8

const (
	tagFat nodeTag = iota
	tagPeg
)

// node is embedded as the first field of both pegRecord and
// fatRecord. Because it is the first field, a *pegRecord or
// *fatRecord can be reinterpreted as a *node (and vice versa) via
// unsafe.Pointer without copying or additional allocation -- the
// standard Go idiom for a common, variably-sized record header,
// which keeps peg and fat records as separately sized heap objects
// instead of forcing them into one padded-to-the-largest sum type.
type node struct {
	tag nodeTag
}

// headHeld is the sentinel value occupying the head word when the
// lock is held by exactly one goroutine with no contention record.
// Its identity (pointer equality), not its contents, is what matters;
// it is never dereferenced as a node and never confused with a real
// peg/fat record because no other pointer in the program can ever
// equal its address.
var headHeld = new(node)

// Lock is a space-optimized mutual-exclusion lock. Its lock state is a
// single pointer-sized head word; the Lock value also holds a second
// pointer for the optional Stats hook, so it occupies two pointers.
// The zero value is an unlocked Lock.
//
// A Lock must not be copied after first use.
type Lock struct {
	head  atomic.Pointer[node]
	stats atomic.Pointer[Stats]
}

// Stats lets a caller observe the inflation protocol without forcing
// every Lock to carry the cost of reporting. It is consulted only
// from the slow paths (promotion, pegging, and fat-record
// reclamation), never from the uncontended fast paths of Lock, Unlock
// or TryLock.
type Stats interface {
	// Promoted is called whenever a Lock inflates from the bare head
	// word into a heavyweight fat record.
	Promoted()
	// Pegged is called whenever a goroutine installs a peg record to
	// safely dereference a pointer head value.
	Pegged()
	// Collapsed is called whenever a fat record is reclaimed (the
	// head word returns to 0 and no pin remains).
	Collapsed()
}

// WithStats attaches an optional observability hook to l. It is safe
// to call concurrently with other operations on l, including before
// the Lock has ever inflated; once set, every later promotion/peg/
// collapse on l reports to s. Passing nil removes any existing hook.
func (l *Lock) WithStats(s Stats) {
	if s == nil {
		l.stats.Store(nil)
		return
	}
	l.stats.Store(&s)
}

func (l *Lock) notifyPromoted() {
	if s := l.stats.Load(); s != nil {
		(*s).Promoted()
	}
}

func (l *Lock) notifyPegged() {
	if s := l.stats.Load(); s != nil {
		(*s).Pegged()
	}
}

func (l *Lock) notifyCollapsed() {
	if s := l.stats.Load(); s != nil {
		(*s).Collapsed()
	}
}

// Init resets l to the unheld, uninflated state. It always succeeds;
// it exists for symmetry with Destroy and for reusing a Lock value,
// not because a zero Lock requires it -- a zero-initialized Lock
// (including one in static/global storage) is already valid without
// ever calling Init.
func (l *Lock) Init() error {
	l.head.Store(nil)
	return nil
}

// Destroy reports whether l may be discarded: it succeeds only when l
// is presently unheld and uninflated (head word == 0). It never
// blocks and never touches the allocator.
func (l *Lock) Destroy() error {
	if l.head.Load() != nil {
		return ErrBusy
	}
	return nil
}

func isPointer(n *node) bool {
	return n != nil && n != headHeld
}
