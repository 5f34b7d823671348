package thread

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/rewindlabs/rewind/internal/assert"
	"github.com/rewindlabs/rewind/internal/recording"
)

func initReplayTest(t *testing.T) *recording.Recording {
	t.Helper()
	rec := recording.NewReplay(recording.Header{})
	assert.OK(t, Initialize(rec, Options{}))
	return rec
}

func TestEventSectionRecord(t *testing.T) {
	initTest(t)
	th := Current()

	s := OpenEventSection(th)
	assert.True(t, s.CanAccessEvents(false))
	th.Events().WriteScalar(0x1122334455667788)
	s.Close()
}

func TestEventSectionPassThrough(t *testing.T) {
	initTest(t)
	th := Current()
	th.SetPassThrough(true)
	defer th.SetPassThrough(false)

	// Pass-through threads skip the recording entirely.
	s := OpenEventSection(th)
	assert.False(t, s.CanAccessEvents(false))
	s.Close()
	assert.Equal(t, th.Events().BytesConsumed(), int64(0))
}

func TestEventSectionDisallowedEvents(t *testing.T) {
	initTest(t)
	th := Current()
	th.BeginDisallowEvents()
	defer th.EndDisallowEvents()

	s := OpenEventSection(th)
	assert.False(t, s.CanAccessEvents(true))
	assert.Panics(t, func() { s.CanAccessEvents(false) })
	s.Close()
}

func TestEventSectionNilThread(t *testing.T) {
	initTest(t)
	s := OpenEventSection(nil)
	assert.False(t, s.CanAccessEvents(false))
	s.Close()
}

func TestEventSectionReplayWaitsForData(t *testing.T) {
	rec := initReplayTest(t)
	th := Current()

	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], 7)
	go func() {
		time.Sleep(30 * time.Millisecond)
		rec.AppendThreadData(MainThreadID, payload[:])
	}()

	// Opening the section blocks until the stream has data to replay.
	s := OpenEventSection(th)
	assert.True(t, s.CanAccessEvents(false))
	assert.Equal(t, th.Events().ReadScalar(), uint64(7))
	s.Close()
}

func TestEventSectionReplayDivergence(t *testing.T) {
	initReplayTest(t)
	SpawnThread(2)

	diverged := make(chan bool, 1)
	StartThread(func(any) {
		th := Current()
		// The stream is empty, so the section blocks at the end of the
		// recording until the thread is told to diverge.
		s := OpenEventSection(th)
		diverged <- th.HasDivergedFromRecording() && !s.CanAccessEvents(false)
		s.Close()
	}, nil, false)

	time.Sleep(30 * time.Millisecond)
	Lookup(2).SetShouldDivergeFromRecording()
	assert.True(t, <-diverged)
}
