package thread

import (
	"fmt"

	"github.com/rewindlabs/rewind/internal/recording"
)

// EventSection marks a region of code where a thread's event stream can be
// accessed. Open a section before any read or write of the stream and close
// it afterward:
//
//	s := thread.OpenEventSection(t)
//	defer s.Close()
//	if s.CanAccessEvents(false) {
//		t.Events().WriteScalar(...)
//	}
//
// When recording, all writes to the stream within the section are atomic
// with respect to a concurrent flush: the section holds the process-wide
// stream lock in shared mode, so durable frames never cut through a section.
//
// When replaying, opening the section blocks while the stream is exhausted,
// giving the thread repeated chances to diverge from the recording before
// invoking the end-of-recording handler to wait for more data. Checks for
// divergence should occur after OpenEventSection returns.
type EventSection struct {
	thread *Thread
}

func OpenEventSection(t *Thread) EventSection {
	s := EventSection{thread: t}
	if t == nil || !t.CanAccessRecording() {
		return s
	}
	if registry.rec.Mode() == recording.Record {
		registry.rec.StreamLock().RLock()
		t.events.EnterEventSection()
	} else {
		for !t.MaybeDivergeFromRecording() && t.events.AtEnd() {
			registry.endOfRecording()
		}
	}
	return s
}

func (s EventSection) Close() {
	t := s.thread
	if t == nil || !t.CanAccessRecording() {
		return
	}
	if registry.rec.Mode() == recording.Record {
		t.events.LeaveEventSection()
		registry.rec.StreamLock().RUnlock()
	}
}

// CanAccessEvents reports whether event access is currently legitimate, so
// call sites can decide between recording/replaying and live execution.
func (s EventSection) CanAccessEvents(tolerateDisallowedEvents bool) bool {
	t := s.thread
	if t == nil || t.PassThroughEvents() || t.HasDivergedFromRecording() {
		return false
	}
	if tolerateDisallowedEvents && t.AreEventsDisallowed() {
		return false
	}
	if !t.CanAccessRecording() {
		panic(fmt.Sprintf("thread %d: event access while events are disallowed", t.id))
	}
	return true
}
