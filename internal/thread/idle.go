package thread

import (
	"fmt"
	"os"
)

// WaitForIdleThreads requests that every other live recorded thread enter
// the idle state and blocks until all of them have, giving the main thread a
// point where no other recorded thread is mutating shared state. It may only
// be called on the main thread.
//
// Threads blocked in a recorded Wait are woken and re-enter through the idle
// path; threads that registered an unrecorded-wait callback are poked at
// most once so they can reach MaybeWaitForFork. If no event stream makes
// progress for the configured interval, thread state is dumped to stderr so
// a stalled thread can be diagnosed rather than hanging silently.
func WaitForIdleThreads() {
	mustMainThread("WaitForIdleThreads")

	registry.mu.Lock()
	registry.waitingForIdle = true
	targets := idleTargets()
	for _, t := range targets {
		t.shouldIdle.Store(true)
	}
	registry.mu.Unlock()
	for _, t := range targets {
		t.wake.notify()
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()
	lastProgress := int64(-1)
	for {
		idle := true
		for _, t := range targets {
			if t.idle.Load() {
				continue
			}
			idle = false
			if poke, ok := t.unrecordedWait.take(); ok {
				registry.mu.Unlock()
				poke()
				registry.mu.Lock()
			}
		}
		if idle {
			break
		}
		if !waitChange(registry.stallReportInterval) {
			progress := registry.rec.TotalBytesConsumed()
			if progress == lastProgress {
				fmt.Fprintln(os.Stderr, "thread: no progress while waiting for idle threads")
				dumpThreadsLocked()
			}
			lastProgress = progress
		}
	}
}

// OperateOnIdleThreadLocks makes every idle thread release or reacquire the
// locks it owns, and waits for all of them to have done so. It is only valid
// once all recorded threads are idle: a fork only clones the calling
// thread's lock state, so other threads' locks must be released before the
// fork and reacquired after it (or after a respawn).
func OperateOnIdleThreadLocks(state OwnedLockState) {
	mustMainThread("OperateOnIdleThreadLocks")
	if state != NeedRelease && state != NeedAcquire {
		panic(fmt.Sprintf("thread: invalid owned lock state %d", state))
	}

	registry.mu.Lock()
	targets := idleTargets()
	for _, t := range targets {
		if !t.idle.Load() {
			registry.mu.Unlock()
			panic(fmt.Sprintf("thread %d is not idle", t.id))
		}
		t.ownedLockState.Store(int32(state))
	}
	registry.mu.Unlock()
	for _, t := range targets {
		t.wake.notify()
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()
	for {
		done := true
		for _, t := range targets {
			if OwnedLockState(t.ownedLockState.Load()) != NoLockAction {
				done = false
				break
			}
		}
		if done {
			return
		}
		waitChange(0)
	}
}

// ResumeIdleThreads lets idle threads resume execution. It may only be
// called on the main thread, after WaitForIdleThreads.
func ResumeIdleThreads() {
	mustMainThread("ResumeIdleThreads")

	registry.mu.Lock()
	registry.waitingForIdle = false
	targets := idleTargets()
	for _, t := range targets {
		t.shouldIdle.Store(false)
		t.unrecordedWait.nextRound()
	}
	registry.mu.Unlock()
	for _, t := range targets {
		t.wake.notify()
	}
}

// idleTargets returns the live recorded threads other than the main thread.
// The caller must hold the registry monitor.
func idleTargets() []*Thread {
	targets := make([]*Thread, 0, MaxThreadID)
	for id := MainThreadID + 1; id <= MaxThreadID; id++ {
		if t := registry.threads[id]; t != nil && t.spawned {
			targets = append(targets, t)
		}
	}
	return targets
}

// TotalEventProgress returns the total amount of data consumed by the event
// streams of every thread. If this increases over time, at least one thread
// has made progress.
func TotalEventProgress() int64 {
	return registry.rec.TotalBytesConsumed()
}

// unrecordedWait is the registration of a thread blocked on a resource
// outside its recorded event stream: none, pending (a poke callback is
// registered and has not fired this quiescence round), or fired.
type unrecordedWait struct {
	state unrecordedWaitState
	poke  func()
}

type unrecordedWaitState int

const (
	unrecordedWaitNone unrecordedWaitState = iota
	unrecordedWaitPending
	unrecordedWaitFired
)

// register stores the callback, reporting whether the caller must invoke it
// now because the main thread is already waiting for idle threads.
func (u *unrecordedWait) register(poke func(), waitingForIdle bool) bool {
	u.poke = poke
	if poke == nil {
		u.state = unrecordedWaitNone
		return false
	}
	if u.state == unrecordedWaitFired {
		return false
	}
	if waitingForIdle {
		u.state = unrecordedWaitFired
		return true
	}
	u.state = unrecordedWaitPending
	return false
}

// take returns the callback to fire for the current quiescence round, at
// most once per round.
func (u *unrecordedWait) take() (func(), bool) {
	if u.state != unrecordedWaitPending {
		return nil, false
	}
	u.state = unrecordedWaitFired
	return u.poke, true
}

func (u *unrecordedWait) clear() {
	u.state = unrecordedWaitNone
	u.poke = nil
}

// nextRound rearms a fired registration so the callback can fire again at
// the next quiescence attempt.
func (u *unrecordedWait) nextRound() {
	if u.state == unrecordedWaitFired {
		u.state = unrecordedWaitPending
	}
}

// NotifyUnrecordedWait registers a callback which pokes this thread out of a
// wait on a resource outside its recorded event stream, so it can reach
// MaybeWaitForFork. The callback is invoked at most once per quiescence
// attempt: immediately if the main thread is already waiting for idle
// threads, otherwise the first time it starts waiting. Registering again
// replaces any previously registered callback.
func (t *Thread) NotifyUnrecordedWait(pokeCallback func()) {
	registry.mu.Lock()
	invoke := t.unrecordedWait.register(pokeCallback, registry.waitingForIdle)
	registry.mu.Unlock()

	if invoke {
		pokeCallback()
	}
}

// MaybeWaitForFork enters the idle state if the main thread is waiting for
// idle threads, first invoking releaseCallback so the thread holds no
// resource across the fork. It returns whether the callback was invoked; the
// caller uses this to decide whether to reacquire the resource afterward.
func (t *Thread) MaybeWaitForFork(releaseCallback func()) bool {
	if t.IsMainThread() {
		panic("thread: MaybeWaitForFork on the main thread")
	}
	if !t.shouldIdle.Load() {
		return false
	}

	registry.mu.Lock()
	t.unrecordedWait.clear()
	registry.mu.Unlock()

	if releaseCallback != nil {
		releaseCallback()
	}
	t.idleLoop()
	return true
}
