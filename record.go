package slimlock

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// fatRecord is the heavyweight, heap-allocated state a Lock inflates
// into on first contention or first condition-wait. It holds a
// conventional blocking mutex and condition variable plus the
// bookkeeping the inflation protocol needs to know when it is safe to
// demote the Lock back to a bare head word.
//
// held, waiters, and every other field besides refcount are only
// ever touched while mu is held. refcount is the one exception: it is
// also read and written via atomic decrement-and-test from
// releaseFat, which is the sole serialization point for demotion (see
// inflate.go).
type fatRecord struct {
	node

	mu   sync.Mutex
	cond *sync.Cond

	held    bool
	waiters uint32

	refcount atomic.Int32
}

func newFatRecord(initiallyHeld bool) *fatRecord {
	f := &fatRecord{held: initiallyHeld}
	f.tag = tagFat
	f.cond = sync.NewCond(&f.mu)
	if initiallyHeld {
		f.refcount.Store(1)
	}
	return f
}

func (f *fatRecord) asNode() *node { return &f.node }

// pegRecord is a transient record used to safely dereference a
// pointer head value: a hazard-pointer-equivalent link in a chain
// that terminates at a fatRecord. refcount is always 0, 1 or 2 over a
// peg's lifetime (one pin for the goroutine that installed it, one
// for its place on whatever chain currently reaches it); it is freed
// -- meaning simply: dropped, for the garbage collector to reclaim --
// the moment both pins are retired.
type pegRecord struct {
	node

	refcount atomic.Int32
	next     *node
}

func newPegRecord(next *node) *pegRecord {
	p := &pegRecord{next: next}
	p.tag = tagPeg
	p.refcount.Store(2)
	return p
}

func (p *pegRecord) asNode() *node { return &p.node }

// The following conversions are valid because node is the first field
// of both pegRecord and fatRecord: a pointer to either type shares an
// address, and therefore a valid *node to *pegRecord. go vet's
// unsafeptr check permits this exact "pointer to first field" pattern.
func pegFromNode(n *node) *pegRecord { return (*pegRecord)(unsafe.Pointer(n)) }
func fatFromNode(n *node) *fatRecord { return (*fatRecord)(unsafe.Pointer(n)) }
