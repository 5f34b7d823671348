// Package recording implements the event streams which recorded threads
// write while recording and consume while replaying.
//
// A Recording owns one Stream per recorded thread id. Streams are byte
// oriented: the call-interception layer encodes whatever it needs as scalars
// and raw bytes, and replay correctness depends only on the byte sequence
// being reproduced exactly. The Recording also owns the process-wide stream
// lock: threads hold it in shared mode while inside an event access section,
// and Save takes it exclusively so that durable frames are only ever cut at
// section boundaries.
//
// A replay may consume a recording which is still being produced. When a
// stream runs out of data the replaying thread blocks in WaitForData until
// more bytes arrive through AppendThreadData or a timeout elapses.
package recording

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxThreads is the maximum number of recorded threads in a recording.
// Thread ids run from 1 to MaxThreads inclusive.
const MaxThreads = 70

// Mode distinguishes a recording being produced from one being replayed.
type Mode int

const (
	Record Mode = iota + 1
	Replay
)

func (m Mode) String() string {
	switch m {
	case Record:
		return "record"
	case Replay:
		return "replay"
	default:
		return "invalid"
	}
}

// Recording is the set of per-thread event streams for one process, in
// either record or replay mode.
type Recording struct {
	mode   Mode
	header Header

	// Held in shared mode by event access sections, exclusively by Save.
	streamLock sync.RWMutex

	mu      sync.Mutex
	notify  chan struct{}
	streams [MaxThreads + 1]*Stream
}

// NewRecording creates an empty record-mode recording with a fresh process
// ID and the given compression for durable frames.
func NewRecording(compression Compression) *Recording {
	r := newRecording(Record)
	r.header = Header{
		ProcessID:   uuid.New(),
		StartTime:   time.Now(),
		Compression: compression,
	}
	return r
}

// NewReplay creates an empty replay-mode recording for the given header.
// Stream contents are supplied by AppendThreadData, typically by a reader
// loading durable frames or by IPC feeding a live recording.
func NewReplay(header Header) *Recording {
	r := newRecording(Replay)
	r.header = header
	return r
}

func newRecording(mode Mode) *Recording {
	r := &Recording{mode: mode, notify: make(chan struct{})}
	for id := 1; id <= MaxThreads; id++ {
		r.streams[id] = &Stream{rec: r, threadID: id}
	}
	return r
}

// Mode returns whether the recording is being produced or replayed.
func (r *Recording) Mode() Mode { return r.mode }

// Header returns the recording header.
func (r *Recording) Header() Header { return r.header }

// Stream returns the event stream of the given thread id.
func (r *Recording) Stream(threadID int) *Stream {
	if threadID < 1 || threadID > MaxThreads {
		panic(fmt.Sprintf("recording: thread id %d out of range", threadID))
	}
	return r.streams[threadID]
}

// StreamLock returns the process-wide stream lock. Event access sections
// hold it in shared mode while touching a stream.
func (r *Recording) StreamLock() *sync.RWMutex { return &r.streamLock }

// TotalBytesConsumed returns the total number of bytes written to or read
// from all streams. If this value increases over time, at least one thread
// has made progress.
func (r *Recording) TotalBytesConsumed() int64 {
	total := int64(0)
	for id := 1; id <= MaxThreads; id++ {
		total += r.streams[id].BytesConsumed()
	}
	return total
}

// AppendThreadData adds data to the stream of the given thread and wakes any
// thread blocked in WaitForData. Only valid in replay mode; record-mode
// streams are written by their owning thread alone.
func (r *Recording) AppendThreadData(threadID int, data []byte) {
	if r.mode != Replay {
		panic("recording: AppendThreadData on a record-mode recording")
	}
	r.Stream(threadID).append(data)

	r.mu.Lock()
	close(r.notify)
	r.notify = make(chan struct{})
	r.mu.Unlock()
}

// WaitForData blocks until more data is appended to any stream or the
// timeout elapses. It returns true if woken by an append, false on timeout.
// A timeout <= 0 waits indefinitely.
func (r *Recording) WaitForData(timeout time.Duration) bool {
	r.mu.Lock()
	ch := r.notify
	r.mu.Unlock()

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
