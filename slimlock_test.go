package slimlock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockUnlockUncontended(t *testing.T) {
	var l Lock
	require.NoError(t, l.Lock())
	assert.Equal(t, headHeld, l.head.Load())
	require.NoError(t, l.Unlock())
	assert.Nil(t, l.head.Load())
}

func TestUnlockNotOwner(t *testing.T) {
	var l Lock
	assert.Equal(t, ErrNotOwner, l.Unlock())
}

func TestTryLockUncontended(t *testing.T) {
	var l Lock
	assert.True(t, l.TryLock())
	require.NoError(t, l.Unlock())
}

func TestTryLockBusy(t *testing.T) {
	var l Lock
	require.NoError(t, l.Lock())
	assert.False(t, l.TryLock())
	require.NoError(t, l.Unlock())
	assert.True(t, l.TryLock())
}

func TestDestroy(t *testing.T) {
	var l Lock
	require.NoError(t, l.Destroy())

	require.NoError(t, l.Lock())
	assert.Equal(t, ErrBusy, l.Destroy())
	require.NoError(t, l.Unlock())
	require.NoError(t, l.Destroy())
}

func TestInit(t *testing.T) {
	var l Lock
	require.NoError(t, l.Lock())
	require.NoError(t, l.Init())
	assert.Nil(t, l.head.Load())
	require.NoError(t, l.Destroy())
}

type countingStats struct {
	promoted, pegged, collapsed int
}

func (s *countingStats) Promoted()  { s.promoted++ }
func (s *countingStats) Pegged()    { s.pegged++ }
func (s *countingStats) Collapsed() { s.collapsed++ }

func TestStatsPromotedOnContention(t *testing.T) {
	var l Lock
	var stats countingStats
	l.WithStats(&stats)

	require.NoError(t, l.Lock())

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, l.Lock())
		require.NoError(t, l.Unlock())
	}()

	// Give the second goroutine a chance to observe the lock held and
	// force a promotion before we release it.
	require.Eventually(t, func() bool {
		return isPointer(l.head.Load())
	}, time.Second, time.Millisecond)

	require.NoError(t, l.Unlock())
	<-done

	assert.Equal(t, 1, stats.promoted)
}
