package thread

import (
	"testing"
	"time"

	"github.com/rewindlabs/rewind/internal/assert"
	"github.com/rewindlabs/rewind/internal/recording"
)

// Tests bind the calling goroutine as the process main thread via
// Initialize, so each test drives the engine exactly like the recorded
// process would.

func initTest(t *testing.T) *recording.Recording {
	t.Helper()
	rec := recording.NewRecording(recording.Uncompressed)
	assert.OK(t, Initialize(rec, Options{}))
	return rec
}

func waitOn(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for thread")
	}
}

func TestLookupAfterSpawnAll(t *testing.T) {
	initTest(t)
	SpawnAll()

	for id := 1; id <= MaxThreadID; id++ {
		th := Lookup(id)
		if th == nil {
			t.Fatalf("thread %d not found", id)
		}
		assert.Equal(t, th.ID(), id)
		if th.NativeID() == 0 {
			t.Fatalf("thread %d is not bound", id)
		}
	}
	assert.Equal(t, Lookup(0), nil)
	assert.Equal(t, Lookup(MaxThreadID+1), nil)
}

func TestCurrentIsMainThread(t *testing.T) {
	initTest(t)
	assert.True(t, CurrentIsMainThread())
	assert.Equal(t, Current().ID(), MainThreadID)
}

func TestNotifyBeforeWaitDoesNotBlock(t *testing.T) {
	initTest(t)
	SpawnThread(2)

	ready := make(chan struct{})
	done := make(chan struct{})
	nativeID := StartThread(func(any) {
		<-ready
		Wait()
		close(done)
	}, nil, false)

	th := LookupByNative(nativeID)
	assert.Equal(t, th.ID(), 2)

	// Post the credit before the thread waits: the wait must consume it and
	// return without blocking.
	Notify(th.ID())
	close(ready)
	waitOn(t, done)
}

func TestNotifyCreditCapsAtOne(t *testing.T) {
	initTest(t)
	SpawnThread(2)

	ready := make(chan struct{})
	first := make(chan struct{})
	second := make(chan struct{})
	StartThread(func(any) {
		<-ready
		Wait()
		close(first)
		Wait()
		close(second)
	}, nil, false)

	Notify(2)
	Notify(2)
	close(ready)
	waitOn(t, first)

	// Two notifications with no intervening wait carry a single credit, so
	// the second wait must block until notified again.
	select {
	case <-second:
		t.Fatal("second wait returned without a notification")
	case <-time.After(100 * time.Millisecond):
	}

	Notify(2)
	waitOn(t, second)
}

func TestNotifyWakesBlockedWait(t *testing.T) {
	initTest(t)
	SpawnThread(2)

	entered := make(chan struct{})
	done := make(chan struct{})
	StartThread(func(any) {
		close(entered)
		Wait()
		close(done)
	}, nil, false)

	waitOn(t, entered)
	time.Sleep(10 * time.Millisecond)
	Notify(2)
	waitOn(t, done)
}

func TestNotifyAfterThreadReuse(t *testing.T) {
	initTest(t)
	SpawnThread(2)

	// Cycle routines through the same thread: the credit for each routine's
	// wait must survive the wake from the park in between.
	for i := 0; i < 100; i++ {
		running := make(chan struct{})
		done := make(chan struct{})
		StartThread(func(any) {
			close(running)
			Wait()
			close(done)
		}, nil, true)
		waitOn(t, running)
		Notify(2)
		waitOn(t, done)
		Lookup(2).Join()
	}
}

func TestNotifyUnknownThreadIsFatal(t *testing.T) {
	initTest(t)
	assert.Panics(t, func() { Notify(MaxThreadID + 100) })
}

func TestStartThreadReusesIdleThread(t *testing.T) {
	initTest(t)
	SpawnThread(2)

	done := make(chan struct{})
	id1 := StartThread(func(any) { done <- struct{}{} }, nil, false)
	waitOn(t, done)

	// The routine finished without needing a join, so the same thread is
	// handed the next start routine.
	var id2 int
	for {
		registry.mu.Lock()
		idle := registry.threads[2].start == nil
		registry.mu.Unlock()
		if idle {
			id2 = StartThread(func(any) { done <- struct{}{} }, nil, false)
			break
		}
		time.Sleep(time.Millisecond)
	}
	waitOn(t, done)
	assert.Equal(t, id1, id2)
}

func TestStartThreadPassesArgument(t *testing.T) {
	initTest(t)
	SpawnThread(2)

	got := make(chan any, 1)
	StartThread(func(arg any) { got <- arg }, "argument", false)
	assert.Equal(t, (<-got).(string), "argument")
}

func TestJoin(t *testing.T) {
	initTest(t)
	SpawnThread(2)

	done := make(chan struct{})
	nativeID := StartThread(func(any) { close(done) }, nil, true)
	th := LookupByNative(nativeID)
	waitOn(t, done)

	// Until joined the thread cannot be reused.
	th.Join()

	again := make(chan struct{})
	id2 := StartThread(func(any) { close(again) }, nil, false)
	waitOn(t, again)
	assert.Equal(t, id2, nativeID)
}

func TestSpawnNonRecorded(t *testing.T) {
	initTest(t)

	done := make(chan struct{})
	current := make(chan *Thread, 1)
	assert.OK(t, SpawnNonRecorded(func(any) {
		current <- Current()
		close(done)
	}, nil))

	th := <-current
	assert.False(t, th.IsRecorded())
	assert.True(t, th.PassThroughEvents())
	assert.Less(t, MaxThreadID, th.ID())
	waitOn(t, done)

	// Auxiliary threads are destroyed normally once their routine returns.
	for i := 0; i < 100; i++ {
		if Lookup(th.ID()) == nil {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("auxiliary thread was not unregistered")
}

func TestPassThroughTogglesMustAlternate(t *testing.T) {
	initTest(t)
	th := Current()
	th.SetPassThrough(true)
	assert.Panics(t, func() { th.SetPassThrough(true) })
	th.SetPassThrough(false)
	assert.Panics(t, func() { th.SetPassThrough(false) })
}

func TestDisallowEventsDepth(t *testing.T) {
	initTest(t)
	th := Current()
	assert.False(t, th.AreEventsDisallowed())
	th.BeginDisallowEvents()
	th.BeginDisallowEvents()
	assert.True(t, th.AreEventsDisallowed())
	th.EndDisallowEvents()
	assert.True(t, th.AreEventsDisallowed())
	th.EndDisallowEvents()
	assert.False(t, th.AreEventsDisallowed())
	assert.Panics(t, func() { th.EndDisallowEvents() })
}

func TestDivergenceIsOneWayUntilRewind(t *testing.T) {
	initTest(t)
	th := Lookup(2)

	assert.False(t, th.MaybeDivergeFromRecording())
	th.SetShouldDivergeFromRecording()
	assert.True(t, th.MaybeDivergeFromRecording())
	assert.True(t, th.HasDivergedFromRecording())
	assert.False(t, th.CanAccessRecording())

	th.ClearDivergenceAfterRewind()
	assert.False(t, th.HasDivergedFromRecording())
	assert.True(t, th.CanAccessRecording())
}

func TestStackBounds(t *testing.T) {
	initTest(t)
	th := Lookup(MainThreadID)
	th.SetStackBounds(0x7f0000000000, 1<<20)
	assert.Equal(t, th.StackBase(), uintptr(0x7f0000000000))
	assert.Equal(t, th.StackSize(), uintptr(1<<20))
}

func TestReinitialize(t *testing.T) {
	initTest(t)
	SpawnThread(2)

	// A second session discards the previous table; spawning and dispatch
	// must work against the new one.
	initTest(t)
	SpawnThread(2)

	done := make(chan struct{})
	StartThread(func(any) { close(done) }, nil, false)
	waitOn(t, done)
	assert.Equal(t, Lookup(2).ID(), 2)
}

func TestRespawnAllAfterForkPreservesState(t *testing.T) {
	initTest(t)

	th := Lookup(5)
	slot := th.GetOrCreateStorage(0x10)
	*slot = 42

	// Simulate a thread that was live before the fork. In a forked child its
	// OS thread no longer exists; only the Thread record remains.
	registry.mu.Lock()
	th.spawned = true
	registry.mu.Unlock()

	RespawnAllAfterFork()

	assert.Equal(t, Lookup(5), th)
	if th.NativeID() == 0 {
		t.Fatal("thread 5 was not rebound")
	}
	assert.Equal(t, *th.GetOrCreateStorage(0x10), 42)
}
