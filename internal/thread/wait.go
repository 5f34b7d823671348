package thread

import "fmt"

// Wait blocks the calling thread until another thread notifies its id. Each
// Notify on an id causes that thread to return from one call to Wait; a
// notification posted while the thread is not waiting satisfies its next
// Wait without blocking.
//
// If the main thread has called WaitForIdleThreads, Wait instead puts the
// thread in the idle state and only returns once the main thread resumes
// idle threads.
func Wait() {
	t := mustCurrent("Wait")
	if t.IsMainThread() || !t.recorded {
		t.wake.wait()
		return
	}
	t.wake.wait()
	if t.shouldIdle.Load() {
		t.idleLoop()
	} else if t.idle.Load() {
		// Respawned in a forked child and woken directly by the resume.
		t.setIdle(false)
	}
}

// WaitNoIdle waits like Wait but never enters the idle state. It must be
// used carefully to avoid deadlocks with the main thread.
func WaitNoIdle() {
	t := mustCurrent("WaitNoIdle")
	t.wake.wait()
}

// WaitForever blocks indefinitely, while still allowing the thread to idle
// for a checkpoint. Used by threads that have finished useful work for the
// current epoch and are waiting to be rewound.
func WaitForever() {
	for {
		Wait()
	}
}

// WaitForeverNoIdle blocks indefinitely without allowing the thread to idle.
func WaitForeverNoIdle() {
	for {
		WaitNoIdle()
	}
}

// Notify posts the wake credit of the thread with the given id. It never
// blocks, and consecutive notifications with no intervening wait are
// equivalent to one.
func Notify(id int) {
	t := Lookup(id)
	if t == nil {
		panic(fmt.Sprintf("thread: notify of unknown thread %d", id))
	}
	t.wake.notify()
}

func (t *Thread) setIdle(idle bool) {
	registry.mu.Lock()
	t.idle.Store(idle)
	broadcast()
	registry.mu.Unlock()
}

// idleLoop parks the thread while the main thread needs it idle. The thread
// performs any requested owned-lock transition and reports it, but does not
// otherwise resume until the main thread clears shouldIdle and notifies.
func (t *Thread) idleLoop() {
	t.setIdle(true)
	for {
		if state := OwnedLockState(t.ownedLockState.Load()); state != NoLockAction {
			t.ReleaseOrAcquireOwnedLocks(state)
			t.ownedLockState.Store(int32(NoLockAction))
			registry.mu.Lock()
			broadcast()
			registry.mu.Unlock()
		}
		if !t.shouldIdle.Load() {
			break
		}
		t.wake.wait()
	}
	t.setIdle(false)
}
