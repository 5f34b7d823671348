// Package thread implements the coordination engine for recorded threads.
//
// The main thread and every thread spawned while events are not passed
// through have their behavior recorded. Each such thread has an associated
// Thread which stores its id, its event stream, and other per-thread state.
//
// To allow the process to checkpoint itself by forking, and to rewind
// without spawning or destroying OS threads, all recorded threads are
// spawned early and parked at an idle loop. They run whatever start routine
// the process hands them via StartThread and then idle again, potentially
// running new start routines if their thread id is reused.
//
// Every recorded thread must be able to enter the idle state when the main
// thread calls WaitForIdleThreads. For most threads this happens the next
// time they block in Wait. Threads blocked on a resource outside the
// recorded event stream use NotifyUnrecordedWait and MaybeWaitForFork to
// reach the same state. Once every recorded thread is idle the main thread
// can fork; in the child, RespawnAllAfterFork recreates an OS thread for
// every Thread record.
//
// The engine is Linux-only: thread identity is the kernel thread id
// returned by gettid(2), and checkpointing depends on fork leaving the
// wake channel pipes shared between parent and child. The platform layer
// in sys_linux.go has no counterpart for other systems.
package thread

import (
	"fmt"
	"sync/atomic"

	"github.com/rewindlabs/rewind/internal/recording"
)

const (
	// MainThreadID is the id used by the process main thread.
	MainThreadID = 1

	// MaxThreadID is the maximum id usable by recorded threads.
	MaxThreadID = recording.MaxThreads
)

// StartFunc is the signature for the start function of a thread.
type StartFunc func(arg any)

// OwnedLockState describes the action an idle thread must take with the
// locks it owns before the process can fork or resume.
type OwnedLockState int32

const (
	// NoLockAction: no action by the thread is needed.
	NoLockAction OwnedLockState = iota

	// NeedRelease: the thread must release all of its owned locks.
	NeedRelease

	// NeedAcquire: the thread must acquire all of its owned locks.
	NeedAcquire
)

// Thread holds the execution state of a recorded thread.
type Thread struct {
	// Thread id in the recording, fixed at creation.
	id       int
	recorded bool

	// Only used by the associated thread.
	passThroughEvents     bool
	disallowEvents        int
	divergedFromRecording bool

	// Whether the thread should diverge from the recording at the next
	// opportunity. Settable from any thread.
	shouldDivergeFromRecording atomic.Bool

	// Start routine and argument the thread is currently executing, cleared
	// after the routine finishes so another routine may be assigned.
	// Protected by the registry monitor.
	start        StartFunc
	startArg     any
	needsJoin    bool
	awaitingJoin bool
	spawned      bool
	nativeID     int

	// Event stream of the thread, only used by the thread itself.
	events *recording.Stream

	// Stack boundary reported by the interception layer. Protected by the
	// registry monitor.
	stackBase uintptr
	stackSize uintptr

	// Wake channel the thread blocks on, fixed at creation. The descriptors
	// survive a fork, unlike any in-process condition variable the thread
	// could be blocked on.
	wake *wakeChannel

	shouldIdle     atomic.Bool
	idle           atomic.Bool
	ownedLockState atomic.Int32

	// Unrecorded-wait registration, protected by the registry monitor.
	unrecordedWait unrecordedWait

	// Locks currently owned by this thread, in acquisition order. Only
	// mutated by the thread itself.
	ownedLocks []ownedLockEntry

	// Lock this thread is currently blocked trying to acquire.
	pendingLock struct {
		ok       bool
		lockID   uint64
		position uint64
	}

	storage localStorage
}

// ID returns the thread id in the recording.
func (t *Thread) ID() int { return t.id }

// NativeID returns the OS-level identifier of the thread, reassigned when
// the thread is respawned after a fork.
func (t *Thread) NativeID() int {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return t.nativeID
}

// Events returns the event stream of the thread.
func (t *Thread) Events() *recording.Stream { return t.events }

func (t *Thread) IsMainThread() bool { return t.id == MainThreadID }

// IsRecorded returns whether the thread participates in recording and
// quiescence. Auxiliary threads spawned for IPC are not recorded.
func (t *Thread) IsRecorded() bool { return t.recorded }

// SetPassThrough sets whether events on this thread execute without being
// recorded or replayed. Setting the flag to its current value is a fatal
// logic error: toggles are required to alternate.
func (t *Thread) SetPassThrough(passThrough bool) {
	if t.passThroughEvents == passThrough {
		panic(fmt.Sprintf("thread %d: pass-through flag already %v", t.id, passThrough))
	}
	t.passThroughEvents = passThrough
}

func (t *Thread) PassThroughEvents() bool { return t.passThroughEvents }

// BeginDisallowEvents enters a region where thread events must not occur at
// all.
func (t *Thread) BeginDisallowEvents() { t.disallowEvents++ }

func (t *Thread) EndDisallowEvents() {
	if t.disallowEvents == 0 {
		panic(fmt.Sprintf("thread %d: unbalanced EndDisallowEvents", t.id))
	}
	t.disallowEvents--
}

func (t *Thread) AreEventsDisallowed() bool { return t.disallowEvents != 0 }

// DivergeFromRecording marks the thread's execution as diverged from the
// recording. Once set, the flag is only cleared by rewinding to a point
// where it was clear.
func (t *Thread) DivergeFromRecording() { t.divergedFromRecording = true }

func (t *Thread) HasDivergedFromRecording() bool { return t.divergedFromRecording }

// SetShouldDivergeFromRecording marks the thread as needing to diverge from
// the recording soon and wakes it up in case it can make progress now. The
// flag is separate from the divergence flag itself so that the thread only
// begins diverging at calls to MaybeDivergeFromRecording.
func (t *Thread) SetShouldDivergeFromRecording() {
	if !CurrentIsMainThread() {
		panic("thread: SetShouldDivergeFromRecording is main-thread only")
	}
	t.shouldDivergeFromRecording.Store(true)
	Notify(t.id)
}

func (t *Thread) MaybeDivergeFromRecording() bool {
	if t.shouldDivergeFromRecording.Load() {
		t.divergedFromRecording = true
	}
	return t.divergedFromRecording
}

// ClearDivergenceAfterRewind resets both divergence flags. Only a full
// rewind to an earlier point may do this.
func (t *Thread) ClearDivergenceAfterRewind() {
	t.shouldDivergeFromRecording.Store(false)
	t.divergedFromRecording = false
}

// CanAccessRecording returns whether this thread may read or write its
// recorded event stream.
func (t *Thread) CanAccessRecording() bool {
	return !t.passThroughEvents && t.disallowEvents == 0 && !t.divergedFromRecording
}

// SetStackBounds records the stack boundary of the thread.
func (t *Thread) SetStackBounds(base, size uintptr) {
	registry.mu.Lock()
	t.stackBase = base
	t.stackSize = size
	registry.mu.Unlock()
}

func (t *Thread) StackBase() uintptr {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return t.stackBase
}

func (t *Thread) StackSize() uintptr {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return t.stackSize
}

// ShouldIdle returns whether the thread will remain in the idle state
// entered after WaitForIdleThreads.
func (t *Thread) ShouldIdle() bool { return t.shouldIdle.Load() }

// IsIdle returns whether the thread is blocked in the idle loop.
func (t *Thread) IsIdle() bool { return t.idle.Load() }

// SetPendingLock records the lock this thread is about to block acquiring,
// and its position in the lock's acquire order.
func (t *Thread) SetPendingLock(lockID, position uint64) {
	t.pendingLock.ok = true
	t.pendingLock.lockID = lockID
	t.pendingLock.position = position
}

func (t *Thread) ClearPendingLock() {
	t.pendingLock.ok = false
	t.pendingLock.lockID = 0
	t.pendingLock.position = 0
}

func (t *Thread) PendingLock() (lockID, position uint64, ok bool) {
	return t.pendingLock.lockID, t.pendingLock.position, t.pendingLock.ok
}
