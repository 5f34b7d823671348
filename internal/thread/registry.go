package thread

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rewindlabs/rewind/internal/recording"
)

const (
	defaultStallReportInterval = 5 * time.Second
	defaultDataPollInterval    = 100 * time.Millisecond
)

// The registry is the fixed table of recorded threads plus the auxiliary
// threads currently alive. One process-wide monitor protects the table and
// the thread information documented as monitor-protected on Thread; the
// notify channel is replaced on every broadcast so waiters can block with a
// timeout (see waitChange).
var registry struct {
	mu     sync.Mutex
	notify chan struct{}

	threads [MaxThreadID + 1]*Thread
	aux     []*Thread
	nextAux int

	rec            *recording.Recording
	waitingForIdle bool

	stallReportInterval time.Duration
	endOfRecording      func()
}

// broadcast wakes every waiter blocked in waitChange. The caller must hold
// the registry monitor.
func broadcast() {
	close(registry.notify)
	registry.notify = make(chan struct{})
}

// waitChange blocks until the next broadcast, or until the timeout elapses
// when timeout > 0, returning false on timeout. The caller must hold the
// registry monitor, which is released while waiting.
func waitChange(timeout time.Duration) bool {
	ch := registry.notify
	registry.mu.Unlock()
	defer registry.mu.Lock()
	if timeout <= 0 {
		<-ch
		return true
	}
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Options configures the thread engine.
type Options struct {
	// StallReportInterval is how long WaitForIdleThreads waits without any
	// event stream progress before dumping thread state to stderr. Zero
	// selects a default.
	StallReportInterval time.Duration

	// EndOfRecording is invoked when a replaying thread hits the end of its
	// event stream without having diverged. It may block waiting for more
	// data from a recording still being produced. Nil selects a poll of the
	// recording's WaitForData.
	EndOfRecording func()
}

// Initialize sets up the thread table for the given recording and binds the
// Thread with id 1 to the calling OS thread, which becomes the process main
// thread. It must be called before any other function in this package.
//
// Calling Initialize again discards the previous table and begins a new
// session. OS threads spawned for the previous session stay parked on their
// old wake channels, which are left open so an abandoned thread never reads
// from a closed or reused descriptor; wake channels of threads that were
// never spawned are closed here. A process that forks must not reinitialize.
func Initialize(rec *recording.Recording, opts Options) error {
	runtime.LockOSThread()

	registry.mu.Lock()
	defer registry.mu.Unlock()

	for _, t := range registry.threads[1:] {
		if t != nil && !t.spawned {
			t.wake.close()
		}
	}

	registry.notify = make(chan struct{})
	registry.aux = nil
	registry.nextAux = 0
	registry.rec = rec
	registry.waitingForIdle = false

	registry.stallReportInterval = opts.StallReportInterval
	if registry.stallReportInterval == 0 {
		registry.stallReportInterval = defaultStallReportInterval
	}
	registry.endOfRecording = opts.EndOfRecording
	if registry.endOfRecording == nil {
		registry.endOfRecording = func() { rec.WaitForData(defaultDataPollInterval) }
	}

	for id := 1; id <= MaxThreadID; id++ {
		t, err := newThread(id, true)
		if err != nil {
			return err
		}
		t.events = rec.Stream(id)
		registry.threads[id] = t
	}

	main := registry.threads[MainThreadID]
	main.spawned = true
	main.nativeID = currentThreadID()
	return nil
}

func newThread(id int, recorded bool) (*Thread, error) {
	wake, err := newWakeChannel()
	if err != nil {
		return nil, fmt.Errorf("thread %d: %w", id, err)
	}
	return &Thread{id: id, recorded: recorded, wake: wake}, nil
}

// BindToCurrent binds the Thread to the calling OS thread, making it the
// result of Current on that thread. The caller must be locked to its OS
// thread.
func (t *Thread) BindToCurrent() {
	registry.mu.Lock()
	t.nativeID = currentThreadID()
	broadcast()
	registry.mu.Unlock()
}

// Current returns the Thread bound to the calling OS thread, or nil for
// auxiliary system threads that were never bound.
func Current() *Thread {
	nativeID := currentThreadID()
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return lookupByNative(nativeID)
}

// CurrentIsMainThread returns whether this is the process main thread.
func CurrentIsMainThread() bool {
	t := Current()
	return t != nil && t.IsMainThread()
}

// Lookup returns the Thread with the given id, or nil if there is none.
func Lookup(id int) *Thread {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if id >= 1 && id <= MaxThreadID {
		return registry.threads[id]
	}
	for _, t := range registry.aux {
		if t.id == id {
			return t
		}
	}
	return nil
}

// LookupByNative returns the Thread bound to the given OS-level thread id,
// or nil if there is none.
func LookupByNative(nativeID int) *Thread {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return lookupByNative(nativeID)
}

func lookupByNative(nativeID int) *Thread {
	for _, t := range registry.threads[1:] {
		if t != nil && t.nativeID == nativeID {
			return t
		}
	}
	for _, t := range registry.aux {
		if t.nativeID == nativeID {
			return t
		}
	}
	return nil
}

func mustCurrent(op string) *Thread {
	t := Current()
	if t == nil {
		panic("thread: " + op + " called from an unbound thread")
	}
	return t
}

func mustMainThread(op string) *Thread {
	t := mustCurrent(op)
	if !t.IsMainThread() {
		panic("thread: " + op + " is main-thread only")
	}
	return t
}

// SpawnAll creates an OS thread for every non-main recorded thread and parks
// each at the idle loop. It is called once, early, before any checkpoint.
func SpawnAll() {
	for id := MainThreadID + 1; id <= MaxThreadID; id++ {
		SpawnThread(id)
	}
}

// SpawnThread creates the OS thread backing the given recorded thread id and
// waits for it to be bound.
func SpawnThread(id int) {
	registry.mu.Lock()
	t := registry.threads[id]
	if t == nil || t.IsMainThread() {
		registry.mu.Unlock()
		panic(fmt.Sprintf("thread: cannot spawn thread %d", id))
	}
	t.spawned = true
	registry.mu.Unlock()

	go threadMain(t)

	registry.mu.Lock()
	for t.nativeID == 0 {
		waitChange(0)
	}
	registry.mu.Unlock()
}

// threadMain is the root of all recorded non-main threads. The thread parks
// at the idle loop until it is handed a start routine; after the routine
// finishes it parks again and may be reused.
func threadMain(t *Thread) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	t.BindToCurrent()
	for {
		if start, arg, ok := t.currentStart(); ok {
			start(arg)
			t.finishStart()
			continue
		}
		Wait()
	}
}

func (t *Thread) currentStart() (StartFunc, any, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if t.start == nil || t.shouldIdle.Load() {
		return nil, nil, false
	}
	return t.start, t.startArg, true
}

func (t *Thread) finishStart() {
	registry.mu.Lock()
	t.start = nil
	t.startArg = nil
	if t.needsJoin {
		t.awaitingJoin = true
	}
	broadcast()
	registry.mu.Unlock()
}

// StartThread hands a start routine to an idling recorded thread, for use
// when the process requests a new thread while events are being recorded.
// It returns the native id of the thread that runs the routine, preserving
// the illusion of system thread creation.
func StartThread(start StartFunc, arg any, needsJoin bool) int {
	registry.mu.Lock()
	var t *Thread
	for id := MainThreadID + 1; id <= MaxThreadID; id++ {
		if c := registry.threads[id]; c.spawned && c.start == nil && !c.awaitingJoin {
			t = c
			break
		}
	}
	if t == nil {
		registry.mu.Unlock()
		panic("thread: no idle recorded thread available")
	}
	t.start = start
	t.startArg = arg
	t.needsJoin = needsJoin
	nativeID := t.nativeID
	registry.mu.Unlock()

	Notify(t.id)
	return nativeID
}

// Join waits until the thread finishes executing its start routine and makes
// it available for reuse. Only valid for threads started with needsJoin.
func (t *Thread) Join() {
	registry.mu.Lock()
	for t.start != nil || !t.awaitingJoin {
		waitChange(0)
	}
	t.awaitingJoin = false
	t.needsJoin = false
	broadcast()
	registry.mu.Unlock()
}

// SpawnNonRecorded spawns an auxiliary thread with the given start routine.
// Auxiliary threads pass through events, never participate in quiescence,
// and are created and destroyed normally.
func SpawnNonRecorded(start StartFunc, arg any) error {
	registry.mu.Lock()
	registry.nextAux++
	id := MaxThreadID + registry.nextAux
	t, err := newThread(id, false)
	if err != nil {
		registry.mu.Unlock()
		return err
	}
	t.passThroughEvents = true
	t.spawned = true
	registry.aux = append(registry.aux, t)
	registry.mu.Unlock()

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		t.BindToCurrent()
		start(arg)

		registry.mu.Lock()
		for i, a := range registry.aux {
			if a == t {
				registry.aux = append(registry.aux[:i], registry.aux[i+1:]...)
				break
			}
		}
		broadcast()
		registry.mu.Unlock()
		t.wake.close()
	}()
	return nil
}

// RespawnAllAfterFork recreates an OS thread for every previously-live
// recorded thread in a freshly forked child, which retains only the calling
// thread. Thread records keep their logical state, including emulated local
// storage; owned locks are not reacquired here, see OperateOnIdleThreadLocks.
// Auxiliary threads are not respawned and must be recreated by their owners.
func RespawnAllAfterFork() {
	registry.mu.Lock()
	main := registry.threads[MainThreadID]
	main.nativeID = currentThreadID()
	registry.aux = nil

	var respawn []*Thread
	for id := MainThreadID + 1; id <= MaxThreadID; id++ {
		if t := registry.threads[id]; t.spawned {
			t.nativeID = 0
			respawn = append(respawn, t)
		}
	}
	registry.mu.Unlock()

	for _, t := range respawn {
		go threadMain(t)
	}

	registry.mu.Lock()
	for _, t := range respawn {
		for t.nativeID == 0 {
			waitChange(0)
		}
	}
	registry.mu.Unlock()
}
