package thread

import (
	"fmt"
	"sync"
)

// NativeLock is a recursive mutual exclusion lock whose ownership is tracked
// on the acquiring Thread, so that the lock can be released before a fork
// and reacquired afterward without losing application-level lock invariants.
type NativeLock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	held  bool
	owner *Thread
	depth int
}

func NewNativeLock() *NativeLock {
	l := &NativeLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire takes the lock, blocking until it is available. A thread already
// holding the lock may acquire it again.
func (l *NativeLock) Acquire() {
	t := Current()
	l.mu.Lock()
	if l.held && t != nil && l.owner == t {
		l.depth++
		l.mu.Unlock()
		return
	}
	for l.held {
		l.cond.Wait()
	}
	l.held = true
	l.owner = t
	l.depth = 1
	l.mu.Unlock()

	if t != nil {
		t.addOwnedLock(l)
	}
}

// Release drops one acquisition of the lock. Releasing a lock the calling
// thread does not hold is a fatal logic error.
func (l *NativeLock) Release() {
	t := Current()
	l.mu.Lock()
	if !l.held || l.owner != t {
		l.mu.Unlock()
		panic("thread: release of a lock not held by the calling thread")
	}
	l.depth--
	if l.depth > 0 {
		l.mu.Unlock()
		return
	}
	l.held = false
	l.owner = nil
	l.cond.Signal()
	l.mu.Unlock()

	if t != nil {
		t.removeOwnedLock(l)
	}
}

// suspend fully releases the lock on behalf of its idle owner, returning the
// recursion depth to restore on resume.
func (l *NativeLock) suspend(t *Thread) int {
	l.mu.Lock()
	if !l.held || l.owner != t {
		l.mu.Unlock()
		panic(fmt.Sprintf("thread %d: suspending a lock it does not hold", t.id))
	}
	depth := l.depth
	l.held = false
	l.owner = nil
	l.depth = 0
	l.cond.Signal()
	l.mu.Unlock()
	return depth
}

// resume reacquires the lock for t at the recursion depth it had when
// suspended.
func (l *NativeLock) resume(t *Thread, depth int) {
	l.mu.Lock()
	for l.held {
		l.cond.Wait()
	}
	l.held = true
	l.owner = t
	l.depth = depth
	l.mu.Unlock()
}

type ownedLockEntry struct {
	lock *NativeLock
	// Recursion depth saved while the lock is released around a fork.
	depth int
}

func (t *Thread) addOwnedLock(l *NativeLock) {
	t.ownedLocks = append(t.ownedLocks, ownedLockEntry{lock: l})
}

func (t *Thread) removeOwnedLock(l *NativeLock) {
	for i := len(t.ownedLocks) - 1; i >= 0; i-- {
		if t.ownedLocks[i].lock == l {
			t.ownedLocks = append(t.ownedLocks[:i], t.ownedLocks[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("thread %d: released a lock it does not own", t.id))
}

// MaybeRemoveDestroyedOwnedLock drops the lock from the owned set if
// present, for locks destroyed while replay still has them owned.
func (t *Thread) MaybeRemoveDestroyedOwnedLock(l *NativeLock) {
	for i := len(t.ownedLocks) - 1; i >= 0; i-- {
		if t.ownedLocks[i].lock == l {
			t.ownedLocks = append(t.ownedLocks[:i], t.ownedLocks[i+1:]...)
			return
		}
	}
}

// LastOwnedLock returns the most recently acquired owned lock, for
// debugging.
func (t *Thread) LastOwnedLock() *NativeLock {
	if n := len(t.ownedLocks); n > 0 {
		return t.ownedLocks[n-1].lock
	}
	return nil
}

// OwnedLocks returns the locks currently owned by the thread, in
// acquisition order.
func (t *Thread) OwnedLocks() []*NativeLock {
	locks := make([]*NativeLock, len(t.ownedLocks))
	for i, e := range t.ownedLocks {
		locks[i] = e.lock
	}
	return locks
}

// ReleaseOrAcquireOwnedLocks releases (in reverse acquisition order) or
// reacquires (in acquisition order) every lock owned by the thread. The
// owned set itself is not affected.
func (t *Thread) ReleaseOrAcquireOwnedLocks(state OwnedLockState) {
	switch state {
	case NeedRelease:
		for i := len(t.ownedLocks) - 1; i >= 0; i-- {
			e := &t.ownedLocks[i]
			e.depth = e.lock.suspend(t)
		}
	case NeedAcquire:
		for i := range t.ownedLocks {
			e := &t.ownedLocks[i]
			e.lock.resume(t, e.depth)
			e.depth = 0
		}
	default:
		panic(fmt.Sprintf("thread: invalid owned lock state %d", state))
	}
}

// Held reports whether the lock is currently held, and by which thread if
// the holder is bound.
func (l *NativeLock) Held() (*Thread, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner, l.held
}
