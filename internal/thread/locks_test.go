package thread

import (
	"testing"
	"time"

	"github.com/rewindlabs/rewind/internal/assert"
)

func TestNativeLockRecursion(t *testing.T) {
	initTest(t)
	th := Current()

	l := NewNativeLock()
	l.Acquire()
	l.Acquire()
	owner, held := l.Held()
	assert.True(t, held)
	assert.Equal(t, owner, th)
	assert.Equal(t, th.LastOwnedLock(), l)

	l.Release()
	_, held = l.Held()
	assert.True(t, held)

	l.Release()
	_, held = l.Held()
	assert.False(t, held)
	assert.Equal(t, len(th.OwnedLocks()), 0)
}

func TestNativeLockContention(t *testing.T) {
	initTest(t)
	SpawnThread(2)

	l := NewNativeLock()
	l.Acquire()

	acquired := make(chan struct{})
	StartThread(func(any) {
		l.Acquire()
		close(acquired)
		l.Release()
	}, nil, false)

	select {
	case <-acquired:
		t.Fatal("lock acquired while held by another thread")
	case <-time.After(50 * time.Millisecond):
	}
	l.Release()
	waitOn(t, acquired)
}

func TestNativeLockReleaseByNonHolderIsFatal(t *testing.T) {
	initTest(t)
	l := NewNativeLock()
	assert.Panics(t, func() { l.Release() })
}

func TestMaybeRemoveDestroyedOwnedLock(t *testing.T) {
	initTest(t)
	th := Current()

	l1 := NewNativeLock()
	l2 := NewNativeLock()
	l1.Acquire()
	l2.Acquire()

	// Locks destroyed while owned drop out of the owned set without a
	// release, as when the process tears down a locked mutex.
	th.MaybeRemoveDestroyedOwnedLock(l1)
	assert.EqualAll(t, th.OwnedLocks(), []*NativeLock{l2})
	th.MaybeRemoveDestroyedOwnedLock(l1)
	assert.EqualAll(t, th.OwnedLocks(), []*NativeLock{l2})

	l2.Release()
}
