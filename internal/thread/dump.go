package thread

import (
	"os"

	"github.com/davecgh/go-spew/spew"
)

// threadStatus is a point-in-time snapshot of one thread, for diagnostics.
type threadStatus struct {
	ID          int
	NativeID    int
	Recorded    bool
	Spawned     bool
	Running     bool
	Idle        bool
	ShouldIdle  bool
	PassThrough bool
	Diverged    bool
	OwnedLocks  int
	PendingLock struct {
		LockID   uint64
		Position uint64
		OK       bool
	}
	EventBytes int64
}

// DumpThreads writes information about all threads to stderr.
func DumpThreads() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	dumpThreadsLocked()
}

func dumpThreadsLocked() {
	var statuses []threadStatus
	for _, t := range registry.threads[1:] {
		if t == nil || !t.spawned {
			continue
		}
		s := threadStatus{
			ID:          t.id,
			NativeID:    t.nativeID,
			Recorded:    t.recorded,
			Spawned:     t.spawned,
			Running:     t.start != nil,
			Idle:        t.idle.Load(),
			ShouldIdle:  t.shouldIdle.Load(),
			PassThrough: t.passThroughEvents,
			Diverged:    t.divergedFromRecording,
			OwnedLocks:  len(t.ownedLocks),
		}
		s.PendingLock.LockID = t.pendingLock.lockID
		s.PendingLock.Position = t.pendingLock.position
		s.PendingLock.OK = t.pendingLock.ok
		if t.events != nil {
			s.EventBytes = t.events.BytesConsumed()
		}
		statuses = append(statuses, s)
	}
	spew.Fdump(os.Stderr, statuses)
}
