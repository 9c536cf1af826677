package slimlock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitSignal(t *testing.T) {
	var l Lock
	c := NewCond()

	ready := make(chan struct{})
	done := make(chan struct{})

	go func() {
		require.NoError(t, l.Lock())
		close(ready)
		require.NoError(t, l.Wait(c))
		require.NoError(t, l.Unlock())
		close(done)
	}()

	<-ready
	// Give the waiter a moment to actually park before signaling.
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, l.Lock())
	c.Signal()
	require.NoError(t, l.Unlock())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up")
	}
}

func TestWaitTimeout(t *testing.T) {
	var l Lock
	c := NewCond()

	require.NoError(t, l.Lock())
	err := l.WaitTimeout(c, 20*time.Millisecond)
	assert.Equal(t, ErrTimeout, err)

	// Per section 4.8, the lock must appear held again regardless of
	// why the wait returned. The wait inflated the lock, so the head
	// word now reaches a fat record whose held flag is set.
	h := l.head.Load()
	require.True(t, isPointer(h))
	assert.True(t, findFat(h).held)
	require.NoError(t, l.Unlock())
}

func TestWaitContextCancel(t *testing.T) {
	var l Lock
	c := NewCond()

	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, l.Lock())

	errCh := make(chan error, 1)
	go func() {
		errCh <- l.WaitContext(ctx, c)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled wait never returned")
	}

	require.NoError(t, l.Unlock())
}

func TestWaitNotOwner(t *testing.T) {
	var l Lock
	c := NewCond()
	assert.Equal(t, ErrNotOwner, l.Wait(c))
}
